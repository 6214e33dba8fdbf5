// Package changehash computes short content digests of editable snapshots.
//
// Digests are a cheap "did anything change" gate for the autosave engine. They
// are not a cryptographic guarantee.
package changehash

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/mitchellh/hashstructure/v2"
)

// Digest is a 16 character hex digest. The empty Digest means "no snapshot".
type Digest string

// None is the zero Digest.
const None Digest = ""

// IsZero reports whether d is the empty digest.
func (d Digest) IsZero() bool { return d == None }

// Short returns the first 8 characters, for log lines.
func (d Digest) Short() string {
	if len(d) > 8 {
		return string(d[:8])
	}
	return string(d)
}

// Of returns the digest of v.
//
// Byte slices, json.RawMessage and strings are hashed as raw bytes. Every other
// value is hashed structurally, so two maps with the same entries or two equal
// structs produce the same digest regardless of identity or insertion order.
// Struct fields tagged `hash:"ignore"` do not contribute.
func Of(v any) (Digest, error) {
	switch b := v.(type) {
	case nil:
		return format(xxhash.Sum64(nil)), nil
	case []byte:
		return format(xxhash.Sum64(b)), nil
	case json.RawMessage:
		return format(xxhash.Sum64(b)), nil
	case string:
		return format(xxhash.Sum64String(b)), nil
	}

	sum, err := hashstructure.Hash(v, hashstructure.FormatV2, &hashstructure.HashOptions{
		Hasher:  xxhash.New(),
		ZeroNil: true,
	})
	if err != nil {
		return None, fmt.Errorf("hash snapshot %T: %w", v, err)
	}
	return format(sum), nil
}

// MustOf is Of for values known to be hashable. It panics on error.
func MustOf(v any) Digest {
	d, err := Of(v)
	if err != nil {
		panic(err)
	}
	return d
}

// Equal reports whether a and b hash identically.
func Equal(a, b any) (bool, error) {
	da, err := Of(a)
	if err != nil {
		return false, err
	}
	db, err := Of(b)
	if err != nil {
		return false, err
	}
	return da == db, nil
}

func format(sum uint64) Digest {
	s := strconv.FormatUint(sum, 16)
	for len(s) < 16 {
		s = "0" + s
	}
	return Digest(s)
}
