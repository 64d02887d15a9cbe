package object

import (
	"fmt"
	"time"
)

// StoredObject is one content-addressed row: the canonical payload bytes
// filed under their key. Rows are immutable and append-only; only explicit
// garbage collection removes them.
type StoredObject struct {
	Key       Key       `json:"key"`
	Kind      Kind      `json:"kind"`
	Canonical []byte    `json:"canonical"` // Canonical payload bytes as stored
	CreatedAt time.Time `json:"created_at"`
}

// Decode unmarshals the canonical bytes back into the payload union.
func (o StoredObject) Decode() (Payload, error) {
	p, err := UnmarshalPayload(o.Canonical)
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", o.Key, err)
	}
	return p, nil
}

// Verify recomputes the content key from the canonical bytes and checks
// it against the stored key. Used when importing foreign databases.
func (o StoredObject) Verify() error {
	if got := KeyForCanonical(o.Canonical); got != o.Key {
		return fmt.Errorf("object %s: canonical bytes hash to %s", o.Key, got)
	}
	return nil
}
