package dispatch

import (
	"context"

	"github.com/roach88/btdebug/internal/query"
	"github.com/roach88/btdebug/internal/store"
)

// StaticBackend serves a single store that is always available. It backs
// the one-shot query command and tests.
type StaticBackend struct {
	session Session
}

// StaticStatus is reported by StaticBackend.Status.
type StaticStatus struct {
	State    string `json:"state"`
	Database string `json:"database"`
	Driver   string `json:"driver"`
}

// NewStaticBackend wraps s.
func NewStaticBackend(s *store.Store, opts ...query.Option) *StaticBackend {
	return &StaticBackend{session: NewSession(s, opts...)}
}

// WithSession implements Backend.
func (b *StaticBackend) WithSession(ctx context.Context, fn func(Session) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(b.session)
}

// Status implements Backend.
func (b *StaticBackend) Status() any {
	return StaticStatus{State: "Running", Database: b.session.Store.Path(), Driver: b.session.Store.Driver()}
}
