// Package jobid generates the 26-character sortable identifiers used as
// primary keys for jobs, log lines, and data-quality issues.
//
// Identifiers are ULIDs: a millisecond timestamp prefix plus random
// suffix, Crockford-base32 encoded. Lexicographic order equals creation
// order, which gives insertion-ordered iteration without a secondary
// index and a stable tie-break key for claim selection.
package jobid

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu sync.Mutex
	// Monotonic entropy guarantees strictly increasing identifiers for
	// calls within the same millisecond, as long as the clock itself
	// does not step backwards.
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a fresh identifier. Safe for concurrent use; identifiers
// produced by a single process are strictly increasing under a monotonic
// clock.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

// IsValid reports whether s parses as a 26-character identifier.
func IsValid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
