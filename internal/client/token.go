package client

import (
	"crypto/hmac"
	"crypto/sha512"
	"fmt"
	"strings"

	"github.com/Keeper-Security/secrets-manager-sub007/internal/crypto"
	"github.com/Keeper-Security/secrets-manager-sub007/internal/storage"
)

// regionHosts resolves the region abbreviation of a one-time token to the
// API hostname for that region.
var regionHosts = map[string]string{
	"US":     "keepersecurity.com",
	"EU":     "keepersecurity.eu",
	"AU":     "keepersecurity.com.au",
	"US_GOV": "govcloud.keepersecurity.us",
	"JP":     "keepersecurity.jp",
	"CA":     "keepersecurity.ca",
}

// clientIDTag keys the HMAC that derives the public client id from the
// binding secret, so the id identifies the device without revealing it.
const clientIDTag = "KEEPER_SECRETS_MANAGER_CLIENT_ID"

// ParseToken splits a one-time token of the form REGION:SECRET into the
// region's hostname and the binding secret. A bare secret defaults to US;
// an explicit hostname (anything containing a dot) passes through as-is.
func ParseToken(token string) (hostname, secret string, err error) {
	region := "US"
	secret = token
	if idx := strings.Index(token, ":"); idx >= 0 {
		region = strings.ToUpper(token[:idx])
		secret = token[idx+1:]
	}
	if secret == "" {
		return "", "", fmt.Errorf("token has no secret part")
	}
	if strings.Contains(region, ".") {
		return strings.ToLower(region), secret, nil
	}
	host, ok := regionHosts[region]
	if !ok {
		return "", "", fmt.Errorf("unknown region %q", region)
	}
	return host, secret, nil
}

// clientIDFromSecret derives the persistent client id from the binding
// secret bytes.
func clientIDFromSecret(secret []byte) string {
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(clientIDTag))
	return crypto.EncodeBase64(mac.Sum(nil))
}

// InitializeStorage seeds a configuration store from a one-time token:
// it resolves the hostname, derives the client id, generates the device
// key pair and records the binding secret for the upcoming bind call.
// Calling it on an already-bound store is the explicit re-bind operation
// and overwrites every credential; it is never invoked implicitly on a
// store that already holds a device identity.
func InitializeStorage(st storage.KeyValueStorage, token, hostOverride string) error {
	hostname, secret, err := ParseToken(token)
	if err != nil {
		return fmt.Errorf("parse token: %w", err)
	}
	if hostOverride != "" {
		hostname = hostOverride
	}
	secretBytes, err := crypto.DecodeBase64(secret)
	if err != nil {
		return fmt.Errorf("token secret: %w", err)
	}

	priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	privDER, err := crypto.ExportPrivateKey(priv)
	if err != nil {
		return err
	}

	entries := map[storage.Key]string{
		storage.KeyHostname:      hostname,
		storage.KeyClientID:      clientIDFromSecret(secretBytes),
		storage.KeyPrivateKey:    crypto.EncodeBase64(privDER),
		storage.KeyBindingSecret: secret,
		storage.KeyBoundFlag:     "false",
	}
	for k, v := range entries {
		if err := st.Set(k, v); err != nil {
			return fmt.Errorf("persist %s: %w", k, err)
		}
	}
	// stale credentials from a previous binding must not survive
	if err := st.Delete(storage.KeyAppKey); err != nil {
		return fmt.Errorf("clear app key: %w", err)
	}
	return st.Delete(storage.KeyCachedResponse)
}

// ResetStorage removes every credential from the store. Device identity is
// never deleted except through this explicit call.
func ResetStorage(st storage.KeyValueStorage) error {
	keys := []storage.Key{
		storage.KeyHostname, storage.KeyClientID, storage.KeyPrivateKey,
		storage.KeyAppKey, storage.KeyServerPublicKeyID,
		storage.KeyBoundFlag, storage.KeyBindingSecret,
		storage.KeyCachedResponse,
	}
	for _, k := range keys {
		if err := st.Delete(k); err != nil {
			return fmt.Errorf("delete %s: %w", k, err)
		}
	}
	return nil
}
