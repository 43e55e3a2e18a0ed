package storage

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

// runStorageSuite exercises the KeyValueStorage contract shared by every
// medium.
func runStorageSuite(t *testing.T, st KeyValueStorage) {
	t.Helper()

	if _, ok, err := st.Get(KeyClientID); err != nil || ok {
		t.Fatalf("empty store: got ok=%v err=%v", ok, err)
	}

	if err := st.Set(KeyClientID, "client-1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := st.Set(KeyHostname, "keepersecurity.eu"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, ok, err := st.Get(KeyClientID)
	if err != nil || !ok || v != "client-1" {
		t.Fatalf("Get: got %q ok=%v err=%v", v, ok, err)
	}

	// overwrite
	if err := st.Set(KeyClientID, "client-2"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, _, _ = st.Get(KeyClientID)
	if v != "client-2" {
		t.Errorf("expected overwritten value, got %q", v)
	}

	keys, err := st.Keys()
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 keys, got %v", keys)
	}

	if err := st.Delete(KeyClientID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := st.Get(KeyClientID); ok {
		t.Error("deleted key still present")
	}
	// deleting a missing key is not an error
	if err := st.Delete(KeyClientID); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

func TestMemoryStorage(t *testing.T) {
	runStorageSuite(t, NewMemoryStorage())
}

func TestFileStorage(t *testing.T) {
	runStorageSuite(t, NewFileStorage(filepath.Join(t.TempDir(), "config.json")))
}

func TestBoltStorage(t *testing.T) {
	st, err := OpenBolt(filepath.Join(t.TempDir(), "config.db"))
	if err != nil {
		t.Fatalf("OpenBolt failed: %v", err)
	}
	defer st.Close()
	runStorageSuite(t, st)
}

func TestMemoryStorageFromSeed(t *testing.T) {
	seed := map[Key]string{KeyHostname: "keepersecurity.com", KeyBoundFlag: "true"}
	st := NewMemoryStorageFrom(seed)
	seed[KeyHostname] = "mutated"
	v, _, _ := st.Get(KeyHostname)
	if v != "keepersecurity.com" {
		t.Errorf("seed map mutation leaked into store: %q", v)
	}
}

func TestFileStoragePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	first := NewFileStorage(path)
	if err := first.Set(KeyAppKey, "c2VjcmV0"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	second := NewFileStorage(path)
	v, ok, err := second.Get(KeyAppKey)
	if err != nil || !ok || v != "c2VjcmV0" {
		t.Fatalf("reopened store: got %q ok=%v err=%v", v, ok, err)
	}
}

func TestFileStorageConcurrentWritersLoseNothing(t *testing.T) {
	st := NewFileStorage(filepath.Join(t.TempDir(), "config.json"))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := Key(fmt.Sprintf("key%d", i))
			if err := st.Set(key, fmt.Sprintf("value%d", i)); err != nil {
				t.Errorf("Set %s failed: %v", key, err)
			}
		}(i)
	}
	wg.Wait()

	keys, err := st.Keys()
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 8 {
		t.Errorf("expected 8 keys after concurrent writes, got %d", len(keys))
	}
}

func TestBoltStoragePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.db")
	first, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("OpenBolt failed: %v", err)
	}
	if err := first.Set(KeyClientID, "abc"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()
	v, ok, _ := second.Get(KeyClientID)
	if !ok || v != "abc" {
		t.Errorf("reopened bolt store: got %q ok=%v", v, ok)
	}
}
