package client

import (
	"testing"

	"github.com/Keeper-Security/secrets-manager-sub007/internal/crypto"
	"github.com/Keeper-Security/secrets-manager-sub007/internal/storage"
)

func TestParseToken(t *testing.T) {
	cases := []struct {
		token    string
		hostname string
		secret   string
		wantErr  bool
	}{
		{"US:abc123", "keepersecurity.com", "abc123", false},
		{"eu:abc123", "keepersecurity.eu", "abc123", false},
		{"AU:abc123", "keepersecurity.com.au", "abc123", false},
		{"US_GOV:abc123", "govcloud.keepersecurity.us", "abc123", false},
		{"JP:abc123", "keepersecurity.jp", "abc123", false},
		{"CA:abc123", "keepersecurity.ca", "abc123", false},
		// bare secret defaults to US
		{"abc123", "keepersecurity.com", "abc123", false},
		// explicit hostname passes through lowercased
		{"Vault.Example.Com:abc123", "vault.example.com", "abc123", false},
		{"XX:abc123", "", "", true},
		{"US:", "", "", true},
		{"", "", "", true},
	}
	for _, c := range cases {
		hostname, secret, err := ParseToken(c.token)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseToken(%q) succeeded, want error", c.token)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseToken(%q) failed: %v", c.token, err)
			continue
		}
		if hostname != c.hostname || secret != c.secret {
			t.Errorf("ParseToken(%q) = (%q, %q), want (%q, %q)",
				c.token, hostname, secret, c.hostname, c.secret)
		}
	}
}

func testToken(t *testing.T) string {
	t.Helper()
	secret, err := crypto.RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	return "US:" + crypto.EncodeBase64(secret)
}

func TestInitializeStorage(t *testing.T) {
	st := storage.NewMemoryStorage()
	if err := InitializeStorage(st, testToken(t), ""); err != nil {
		t.Fatalf("InitializeStorage failed: %v", err)
	}

	for _, k := range []storage.Key{
		storage.KeyHostname, storage.KeyClientID, storage.KeyPrivateKey,
		storage.KeyBindingSecret, storage.KeyBoundFlag,
	} {
		if _, ok, err := st.Get(k); err != nil || !ok {
			t.Errorf("%s not persisted (ok=%v err=%v)", k, ok, err)
		}
	}
	if v, _, _ := st.Get(storage.KeyHostname); v != "keepersecurity.com" {
		t.Errorf("hostname = %q", v)
	}
	if v, _, _ := st.Get(storage.KeyBoundFlag); v != "false" {
		t.Errorf("fresh store reports boundFlag %q", v)
	}

	// the private key round-trips through its stored encoding
	enc, _, _ := st.Get(storage.KeyPrivateKey)
	der, err := crypto.DecodeBase64(enc)
	if err != nil {
		t.Fatalf("stored private key is not base64url: %v", err)
	}
	if _, err := crypto.ImportPrivateKey(der); err != nil {
		t.Errorf("stored private key does not parse: %v", err)
	}
}

func TestInitializeStorageIsExplicitRebind(t *testing.T) {
	st := storage.NewMemoryStorage()
	if err := InitializeStorage(st, testToken(t), ""); err != nil {
		t.Fatalf("first init failed: %v", err)
	}
	firstID, _, _ := st.Get(storage.KeyClientID)
	// simulate a completed binding
	if err := st.Set(storage.KeyAppKey, "c3RhbGU"); err != nil {
		t.Fatal(err)
	}
	if err := st.Set(storage.KeyCachedResponse, "c3RhbGU"); err != nil {
		t.Fatal(err)
	}

	if err := InitializeStorage(st, testToken(t), ""); err != nil {
		t.Fatalf("re-init failed: %v", err)
	}
	secondID, _, _ := st.Get(storage.KeyClientID)
	if firstID == secondID {
		t.Error("re-init kept the old client id")
	}
	if _, ok, _ := st.Get(storage.KeyAppKey); ok {
		t.Error("stale app key survived re-init")
	}
	if _, ok, _ := st.Get(storage.KeyCachedResponse); ok {
		t.Error("stale cached response survived re-init")
	}
}

func TestInitializeStorageHostOverride(t *testing.T) {
	st := storage.NewMemoryStorage()
	if err := InitializeStorage(st, testToken(t), "http://127.0.0.1:9999"); err != nil {
		t.Fatalf("InitializeStorage failed: %v", err)
	}
	if v, _, _ := st.Get(storage.KeyHostname); v != "http://127.0.0.1:9999" {
		t.Errorf("host override not applied: %q", v)
	}
}

func TestResetStorage(t *testing.T) {
	st := storage.NewMemoryStorage()
	if err := InitializeStorage(st, testToken(t), ""); err != nil {
		t.Fatalf("InitializeStorage failed: %v", err)
	}
	if err := ResetStorage(st); err != nil {
		t.Fatalf("ResetStorage failed: %v", err)
	}
	keys, err := st.Keys()
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("reset store still holds %v", keys)
	}
}
