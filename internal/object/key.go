package object

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hash domains keep keys from different record families disjoint. Bump the
// version suffix if the canonical encoding ever changes shape.
const (
	domainObject  = "retrace/object/v1"
	domainCodeDef = "retrace/codedef/v1"
)

// hexDigestLen is the length of a hex-encoded SHA-256 digest.
const hexDigestLen = sha256.Size * 2

// Key is the content address of a stored object: the domain-separated
// SHA-256 digest of its canonical payload bytes, lowercase hex.
type Key string

func (k Key) String() string { return string(k) }

// Validate checks that a key is a well-formed digest.
func (k Key) Validate() error {
	return validateDigest(string(k), "key")
}

// KeyFor computes the content key of a payload. Equal payloads always get
// equal keys; that single property is what deduplication rests on.
func KeyFor(p Payload) (Key, error) {
	b, err := MarshalCanonical(p)
	if err != nil {
		return "", err
	}
	return KeyForCanonical(b), nil
}

// KeyForCanonical computes the content key of bytes already in canonical
// form, as when rehashing payloads read back from storage.
func KeyForCanonical(canonical []byte) Key {
	return Key(hashWithDomain(domainObject, canonical))
}

// MustKeyFor is KeyFor for payloads the caller has already validated.
// It panics on error.
func MustKeyFor(p Payload) Key {
	k, err := KeyFor(p)
	if err != nil {
		panic(fmt.Sprintf("object: key for payload: %v", err))
	}
	return k
}

// CodeID identifies a code definition by the content that defines it.
type CodeID string

func (id CodeID) String() string { return string(id) }

// Validate checks that a code definition id is a well-formed digest.
func (id CodeID) Validate() error {
	return validateDigest(string(id), "code id")
}

// CodeDefinitionID derives the id of a code definition from its module
// path, name, and source text. Re-registering an unchanged definition
// yields the same id; any edit, move, or rename yields a new one, so
// existing references keep pointing at the snapshot they captured.
func CodeDefinitionID(module, name, source string) CodeID {
	h := sha256.New()
	h.Write([]byte(domainCodeDef))
	h.Write([]byte{0})
	h.Write([]byte(module))
	h.Write([]byte{0})
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(source))
	return CodeID(hex.EncodeToString(h.Sum(nil)))
}

func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func validateDigest(s, what string) error {
	if len(s) != hexDigestLen {
		return fmt.Errorf("%s must be %d hex chars, got %d", what, hexDigestLen, len(s))
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("%s contains non-hex char %q", what, c)
		}
	}
	return nil
}
