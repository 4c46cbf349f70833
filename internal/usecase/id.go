package usecase

import (
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// newID generates a lexicographically sortable unique identifier. Message ids
// double as session ids, so sort order follows creation order.
func newID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
