package storage

import (
	"os"
	"strings"
	"unicode"
)

// envPrefix namespaces the configuration variables, e.g. clientId is read
// from KSM_CLIENT_ID.
const envPrefix = "KSM_"

// EnvStorage reads configuration from environment variables. Writes go
// through os.Setenv and are therefore visible to this process only, which
// suits CI jobs that inject credentials externally; callers that need the
// binding flow to persist credentials should use a file or database store.
type EnvStorage struct{}

// NewEnvStorage returns an environment-variable-backed store.
func NewEnvStorage() *EnvStorage {
	return &EnvStorage{}
}

// envName converts a camelCase key to its SCREAMING_SNAKE variable name.
func envName(key Key) string {
	var b strings.Builder
	b.WriteString(envPrefix)
	for i, r := range string(key) {
		if unicode.IsUpper(r) && i > 0 {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

func (s *EnvStorage) Get(key Key) (string, bool, error) {
	v, ok := os.LookupEnv(envName(key))
	return v, ok, nil
}

func (s *EnvStorage) Set(key Key, value string) error {
	return os.Setenv(envName(key), value)
}

func (s *EnvStorage) Delete(key Key) error {
	return os.Unsetenv(envName(key))
}

func (s *EnvStorage) Keys() ([]Key, error) {
	known := []Key{
		KeyHostname, KeyClientID, KeyPrivateKey, KeyAppKey,
		KeyServerPublicKeyID, KeyBoundFlag, KeyBindingSecret,
		KeyCachedResponse,
	}
	var keys []Key
	for _, k := range known {
		if _, ok := os.LookupEnv(envName(k)); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
