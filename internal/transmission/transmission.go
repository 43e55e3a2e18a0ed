// Package transmission manages the per-request transmission keys that
// protect API payloads in transit, wrapped against a small table of pinned
// server public keys.
package transmission

import (
	"crypto/ecdh"
	"errors"
	"fmt"

	"github.com/Keeper-Security/secrets-manager-sub007/internal/crypto"
)

// ErrUnknownServerKey is returned when a requested pinned key id is not
// present in the key ring.
var ErrUnknownServerKey = errors.New("unknown server public key id")

// Key is the ephemeral material protecting a single API call. RawKey lives
// in memory for the duration of the call only and must never be persisted
// or logged; WrappedKey is what travels to the server.
type Key struct {
	// PublicKeyID identifies the pinned server key used for wrapping.
	PublicKeyID int
	// RawKey is the 256-bit symmetric key for local AEAD use.
	RawKey []byte
	// WrappedKey is RawKey asymmetrically encrypted to the pinned key.
	WrappedKey []byte
}

// KeyRing is an immutable table of pinned server public keys indexed by
// small integer ids. It is built once at startup; adding a key for a new
// region is a table update, never a runtime mutation.
type KeyRing struct {
	keys  map[int]*ecdh.PublicKey
	maxID int
}

// NewKeyRing builds a ring from base64url-encoded uncompressed P-256
// points keyed by id. Every entry must parse as a valid curve point.
func NewKeyRing(encoded map[int]string) (*KeyRing, error) {
	if len(encoded) == 0 {
		return nil, errors.New("key ring must contain at least one key")
	}
	ring := &KeyRing{keys: make(map[int]*ecdh.PublicKey, len(encoded))}
	for id, enc := range encoded {
		raw, err := crypto.DecodeBase64(enc)
		if err != nil {
			return nil, fmt.Errorf("server key %d: %w", id, err)
		}
		pub, err := crypto.ParsePublicKey(raw)
		if err != nil {
			return nil, fmt.Errorf("server key %d: %w", id, err)
		}
		ring.keys[id] = pub
		if id > ring.maxID {
			ring.maxID = id
		}
	}
	return ring, nil
}

// pinnedServerKeys is the versioned table of production server public keys
// bundled with this release. Ids are stable across releases; new regions
// append new ids.
var pinnedServerKeys = map[int]string{
	1: "BKqeaMnmlt9H9Wf3O2tpKxYZ5YWFrl0TEBaeoc4tnfeXwWfmN6SefWN7COyohA4wPkAPnZUF-qS9XgMbohBBGZA",
	2: "BBpwxRmx1yDtSaCG27KYTZLSlTPSYC4w0U9fupeVZhDqpu1vQROKqABEN49basBmlU7Iu-KZ09ZdOibSSfkFkLc",
	3: "BPk18vn2ZQmPtT1UG7YcbVALXs8wftXeBxksvbflGRj6vRd36psuhB34jMlQ05a12lGuqhq_tGqmjnsU_gMTHoA",
	4: "BPl28eaAHqKuKQOGerc3QmDZ4GXHejWNhFu9nW-rUv0E4IMEdKvEaE3e-5glZo78jgtSxlrhbv5QE829OpeiSUA",
	5: "BErQWFlXzOCqtnfqnqxin0F06nocJ6KH-rCPYzzqAIBSQ14ybMglYcftoAr6WCTqhhsuSkmeIAhb5VPztjGUMyg",
	6: "BK9T8MWa3zwbAlOcWJbdkDI9w-zaen_YFUPnQ-XZBzd-H3mpV1ZbqAqPBntzGySVl34bMjFb0hh6LYsXhYvSRrU",
	7: "BAAM9aKFeNq_bDoBBZ5yBj1M3jciLpS1hTLCSlv_at9LThuDvwjZFddDCTBeboM07PzAasHOC4syGUQ01byB31U",
}

// DefaultKeyRing returns the ring of production pinned keys. The table is
// compiled in, so a parse failure is a build defect and panics.
func DefaultKeyRing() *KeyRing {
	ring, err := NewKeyRing(pinnedServerKeys)
	if err != nil {
		panic(fmt.Sprintf("pinned server key table invalid: %v", err))
	}
	return ring
}

// LatestID returns the highest pinned key id in the ring.
func (r *KeyRing) LatestID() int {
	return r.maxID
}

// Contains reports whether the ring holds a key with the given id.
func (r *KeyRing) Contains(id int) bool {
	_, ok := r.keys[id]
	return ok
}

// New generates a transmission key for one API call. A fresh 256-bit raw
// key is wrapped against the pinned key with the given id; id 0 selects
// the highest-numbered pinned key. Purely computational, nothing persists.
func New(ring *KeyRing, id int) (*Key, error) {
	if id == 0 {
		id = ring.maxID
	}
	pub, ok := ring.keys[id]
	if !ok {
		return nil, fmt.Errorf("key id %d: %w", id, ErrUnknownServerKey)
	}
	raw, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	wrapped, err := crypto.PublicEncrypt(raw, pub)
	if err != nil {
		return nil, fmt.Errorf("wrap transmission key: %w", err)
	}
	return &Key{PublicKeyID: id, RawKey: raw, WrappedKey: wrapped}, nil
}
