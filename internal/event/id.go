package event

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	runMu   sync.Mutex
	runMono io.Reader
)

func init() {
	// ulid.Monotonic keeps run IDs generated within one millisecond
	// lexicographically increasing.
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	runMono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// NewEventID returns a time-sortable UUIDv7 string.
//
// Format: "0190a6e2-7c3b-7d4e-9f00-1a2b3c4d5e6f" (36 characters)
func NewEventID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewRunID returns a ULID for a new backtest run.
func NewRunID() string {
	runMu.Lock()
	defer runMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), runMono)
	if err != nil {
		// Only fails if the clock goes backwards past the monotonic window.
		panic(err)
	}
	return id.String()
}

// IDGenerator produces event IDs. Producers use UUIDv7Generator; tests
// use a fixed sequence for deterministic transcripts.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates event IDs with NewEventID.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate implements IDGenerator.
func (UUIDv7Generator) Generate() string {
	return NewEventID()
}
