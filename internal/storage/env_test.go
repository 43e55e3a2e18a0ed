package storage

import "testing"

func TestEnvName(t *testing.T) {
	cases := map[Key]string{
		KeyHostname:          "KSM_HOSTNAME",
		KeyClientID:          "KSM_CLIENT_ID",
		KeyPrivateKey:        "KSM_PRIVATE_KEY",
		KeyAppKey:            "KSM_APP_KEY",
		KeyServerPublicKeyID: "KSM_SERVER_PUBLIC_KEY_ID",
		KeyBoundFlag:         "KSM_BOUND_FLAG",
	}
	for key, want := range cases {
		if got := envName(key); got != want {
			t.Errorf("envName(%s) = %q, want %q", key, got, want)
		}
	}
}

func TestEnvStorage(t *testing.T) {
	t.Setenv("KSM_CLIENT_ID", "from-env")
	st := NewEnvStorage()

	v, ok, err := st.Get(KeyClientID)
	if err != nil || !ok || v != "from-env" {
		t.Fatalf("Get: got %q ok=%v err=%v", v, ok, err)
	}

	if err := st.Set(KeyBoundFlag, "true"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Delete(KeyBoundFlag) })

	keys, err := st.Keys()
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	found := 0
	for _, k := range keys {
		if k == KeyClientID || k == KeyBoundFlag {
			found++
		}
	}
	if found != 2 {
		t.Errorf("expected both set keys listed, got %v", keys)
	}

	if err := st.Delete(KeyClientID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := st.Get(KeyClientID); ok {
		t.Error("deleted env key still present")
	}
}
