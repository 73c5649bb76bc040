// Package event provides the log record types for btdebug.
//
// This package contains the Event and Run records, their closed enums,
// identifier generation and the payload decoders used by consumers.
// All other internal packages import event; event imports only apperr.
//
// Key design constraints:
//   - Events are immutable once appended; the log is append-only
//   - Properties are opaque JSON objects; the store never decodes them
//   - Payloads are decoded by event type only at the point of use
//     (state reconstruction, entity indexing)
//   - All JSON tags use snake_case
package event
