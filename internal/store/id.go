package store

import (
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// newID generates a ULID; sort order follows creation order, which keeps
// message listing stable within a timestamp.
func newID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
