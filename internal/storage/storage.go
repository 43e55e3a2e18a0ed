// Package storage defines the key-value configuration store that holds a
// device's persistent credentials, and several persistence mediums behind
// one interface: in-memory, JSON file, environment variables, PostgreSQL
// and bbolt. The core is agnostic to the medium; only the key names and
// value encodings are fixed.
package storage

// Key names the well-known entries of the configuration store. Values are
// strings; binary material (keys) is stored base64url-encoded.
type Key string

const (
	// KeyHostname is the API hostname resolved from the token region.
	KeyHostname Key = "hostname"
	// KeyClientID is the device identifier derived from the binding secret.
	KeyClientID Key = "clientId"
	// KeyPrivateKey is the device EC private key, SEC1 DER base64url.
	KeyPrivateKey Key = "privateKey"
	// KeyAppKey is the application symmetric key received at binding.
	KeyAppKey Key = "appKey"
	// KeyServerPublicKeyID selects the pinned server key for wrapping.
	KeyServerPublicKeyID Key = "serverPublicKeyId"
	// KeyBoundFlag is "true" once the one-time binding has completed.
	KeyBoundFlag Key = "boundFlag"
	// KeyBindingSecret holds the one-time token secret until binding
	// completes, after which it is deleted.
	KeyBindingSecret Key = "bindingSecret"
	// KeyCachedResponse optionally holds the last wrapped transmission key
	// and encrypted response for offline fallback. Written only when the
	// caching option is enabled.
	KeyCachedResponse Key = "cachedResponse"
)

// KeyValueStorage is the capability interface every persistence medium
// implements. Get reports absence through its second return value rather
// than an error so missing keys stay distinguishable from I/O failures.
// Writers must provide atomic read-modify-write semantics: two concurrent
// Set calls may interleave in any order but must never lose one another's
// writes to unrelated keys.
type KeyValueStorage interface {
	Get(key Key) (string, bool, error)
	Set(key Key, value string) error
	Delete(key Key) error
	Keys() ([]Key, error)
}
