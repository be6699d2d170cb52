// Package uid provides identifier generation and the day-counter clock used
// throughout MemoGarden for relation decay arithmetic.
package uid

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// New generates a type-4 UUID string, the identifier form used for every
// Entity, Fact, and ContextFrame.
func New() string {
	return uuid.NewString()
}

// Epoch is day zero for the relation decay horizon (2020-01-01 UTC),
// matching the reference implementation so day counters are stable across
// restarts and machines.
var Epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// DayNumber returns the number of whole days elapsed between Epoch and t,
// truncating to UTC midnight boundaries.
func DayNumber(t time.Time) int {
	t = t.UTC()
	d := t.Sub(Epoch)
	return int(d.Hours() / 24)
}

// Today is DayNumber(time.Now()), split out so callers can stub the clock
// in tests by calling DayNumber directly with a fixed time.
func Today() int {
	return DayNumber(time.Now())
}

// HashOf computes the content hash used for hash-chained entity versions
// and fact integrity hashes: sha256 over the canonical JSON encoding of v,
// hex-encoded.
func HashOf(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// ChainHash returns sha256 over previousHash followed by the canonical JSON
// encoding of fields, hex-encoded. The entity store does not call it: its
// version hashes come from HashOf over a value that includes the previous
// hash.
func ChainHash(previousHash string, fields interface{}) (string, error) {
	b, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(previousHash))
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil)), nil
}
