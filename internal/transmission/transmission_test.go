package transmission

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"testing"

	"github.com/Keeper-Security/secrets-manager-sub007/internal/crypto"
)

// testRing builds a ring of n freshly generated server keys (ids 1..n)
// and returns the private halves for unwrap verification.
func testRing(t *testing.T, n int) (*KeyRing, map[int]*ecdsa.PrivateKey) {
	t.Helper()
	encoded := make(map[int]string, n)
	privs := make(map[int]*ecdsa.PrivateKey, n)
	for id := 1; id <= n; id++ {
		priv, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatalf("generate server key %d: %v", id, err)
		}
		pub, err := crypto.PublicKeyBytes(&priv.PublicKey)
		if err != nil {
			t.Fatalf("serialize server key %d: %v", id, err)
		}
		encoded[id] = crypto.EncodeBase64(pub)
		privs[id] = priv
	}
	ring, err := NewKeyRing(encoded)
	if err != nil {
		t.Fatalf("NewKeyRing failed: %v", err)
	}
	return ring, privs
}

func TestWrapUnwrapEveryRingKey(t *testing.T) {
	ring, privs := testRing(t, 3)
	for id, priv := range privs {
		tk, err := New(ring, id)
		if err != nil {
			t.Fatalf("New(%d) failed: %v", id, err)
		}
		if tk.PublicKeyID != id {
			t.Errorf("expected key id %d, got %d", id, tk.PublicKeyID)
		}
		if len(tk.RawKey) != crypto.KeySize {
			t.Fatalf("raw key is %d bytes", len(tk.RawKey))
		}
		// the server-side unwrap must recover the exact raw key
		got, err := crypto.PublicDecrypt(tk.WrappedKey, priv)
		if err != nil {
			t.Fatalf("unwrap key %d: %v", id, err)
		}
		if !bytes.Equal(got, tk.RawKey) {
			t.Errorf("key %d: unwrapped key differs from raw key", id)
		}
	}
}

func TestZeroIDSelectsLatest(t *testing.T) {
	ring, privs := testRing(t, 4)
	tk, err := New(ring, 0)
	if err != nil {
		t.Fatalf("New(0) failed: %v", err)
	}
	if tk.PublicKeyID != 4 {
		t.Fatalf("expected latest id 4, got %d", tk.PublicKeyID)
	}
	if _, err := crypto.PublicDecrypt(tk.WrappedKey, privs[4]); err != nil {
		t.Errorf("latest key does not unwrap: %v", err)
	}
}

func TestUnknownServerKey(t *testing.T) {
	ring, _ := testRing(t, 2)
	if _, err := New(ring, 9); !errors.Is(err, ErrUnknownServerKey) {
		t.Errorf("expected ErrUnknownServerKey, got %v", err)
	}
}

func TestFreshKeyPerCall(t *testing.T) {
	ring, _ := testRing(t, 1)
	a, err := New(ring, 1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	b, err := New(ring, 1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if bytes.Equal(a.RawKey, b.RawKey) {
		t.Error("two calls produced the same raw key")
	}
}

func TestDefaultKeyRing(t *testing.T) {
	ring := DefaultKeyRing()
	if ring.LatestID() != 7 {
		t.Errorf("expected 7 pinned keys, latest is %d", ring.LatestID())
	}
	for id := 1; id <= 7; id++ {
		if !ring.Contains(id) {
			t.Errorf("pinned table is missing id %d", id)
		}
		if _, err := New(ring, id); err != nil {
			t.Errorf("wrapping against pinned key %d failed: %v", id, err)
		}
	}
}

func TestNewKeyRingRejectsBadPoint(t *testing.T) {
	_, err := NewKeyRing(map[int]string{1: crypto.EncodeBase64([]byte("not a point"))})
	if err == nil {
		t.Error("expected error for invalid curve point")
	}
	if _, err := NewKeyRing(nil); err == nil {
		t.Error("expected error for empty ring")
	}
}
