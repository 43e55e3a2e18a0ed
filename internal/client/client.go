// Package client implements the SecretsManager: the binding flow that
// turns a one-time token into persistent device credentials, the encrypted
// transport every API call goes through, and record fetch/update/create
// operations over the decrypted vault.
package client

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Keeper-Security/secrets-manager-sub007/internal/crypto"
	"github.com/Keeper-Security/secrets-manager-sub007/internal/notation"
	"github.com/Keeper-Security/secrets-manager-sub007/internal/storage"
	"github.com/Keeper-Security/secrets-manager-sub007/internal/transmission"
	"github.com/Keeper-Security/secrets-manager-sub007/internal/vault"
)

var (
	// ErrAccessDenied is a server-reported authentication rejection. The
	// wrapped message carries the server's explanation verbatim. Never
	// retried automatically: it signals token reuse, clock skew or
	// tampering, none of which a retry can fix.
	ErrAccessDenied = errors.New("access denied")

	// ErrRevisionConflict is returned when an update was submitted with a
	// stale revision. The caller must re-fetch before mutating again.
	ErrRevisionConflict = errors.New("record revision conflict")
)

// Options configures a SecretsManager. Storage is required; a Token is
// required only for a store that has never been initialized.
type Options struct {
	// Storage persists the device credentials.
	Storage storage.KeyValueStorage
	// Token is the one-time token (REGION:SECRET or bare secret) used to
	// initialize an empty store.
	Token string
	// Hostname overrides the hostname resolved from the token region.
	Hostname string
	// KeyRing overrides the pinned server key table; nil uses the
	// production table.
	KeyRing *transmission.KeyRing
	// ServerPublicKeyID pins a specific server key id; 0 follows the
	// stored or latest id.
	ServerPublicKeyID int
	// HTTPClient overrides the transport; nil uses a 60s-timeout client.
	HTTPClient *http.Client
	// Logger receives request metadata; nil disables logging. Key
	// material is never logged at any level.
	Logger *zap.Logger
	// CacheLastResponse persists the last fetch (wrapped key + encrypted
	// response) for offline fallback. Off by default; enabling it is the
	// documented side-channel that outlives the single call.
	CacheLastResponse bool
}

// SecretsManager is safe for concurrent use: every call generates its own
// transmission key, and credential writes serialize on an internal mutex.
type SecretsManager struct {
	store storage.KeyValueStorage
	ring  *transmission.KeyRing
	http  *http.Client
	log   *zap.Logger
	cache bool
	keyID int

	// mu serializes the bind state transition and credential writes so
	// racing calls cannot interleave a partial bind.
	mu sync.Mutex
}

// New builds a SecretsManager over the given storage. An uninitialized
// store requires a token and is seeded via InitializeStorage; a store
// already holding a device identity ignores the token rather than
// re-binding implicitly.
func New(opts Options) (*SecretsManager, error) {
	if opts.Storage == nil {
		return nil, errors.New("storage is required")
	}
	sm := &SecretsManager{
		store: opts.Storage,
		ring:  opts.KeyRing,
		http:  opts.HTTPClient,
		log:   opts.Logger,
		cache: opts.CacheLastResponse,
		keyID: opts.ServerPublicKeyID,
	}
	if sm.ring == nil {
		sm.ring = transmission.DefaultKeyRing()
	}
	if sm.http == nil {
		sm.http = &http.Client{Timeout: 60 * time.Second}
	}
	if sm.log == nil {
		sm.log = zap.NewNop()
	}

	_, haveID, err := sm.store.Get(storage.KeyClientID)
	if err != nil {
		return nil, fmt.Errorf("read storage: %w", err)
	}
	if !haveID {
		if opts.Token == "" {
			return nil, errors.New("storage is uninitialized and no token was given")
		}
		if err := InitializeStorage(sm.store, opts.Token, opts.Hostname); err != nil {
			return nil, err
		}
		sm.log.Info("storage initialized from one-time token")
	}
	return sm, nil
}

// credentials loads the identity fields every request needs.
func (sm *SecretsManager) credentials() (hostname, clientID string, priv *ecdsa.PrivateKey, err error) {
	hostname, ok, err := sm.store.Get(storage.KeyHostname)
	if err != nil || !ok {
		return "", "", nil, fmt.Errorf("hostname missing from storage: %w", err)
	}
	clientID, ok, err = sm.store.Get(storage.KeyClientID)
	if err != nil || !ok {
		return "", "", nil, fmt.Errorf("client id missing from storage: %w", err)
	}
	privEnc, ok, err := sm.store.Get(storage.KeyPrivateKey)
	if err != nil || !ok {
		return "", "", nil, fmt.Errorf("private key missing from storage: %w", err)
	}
	der, err := crypto.DecodeBase64(privEnc)
	if err != nil {
		return "", "", nil, fmt.Errorf("private key: %w", err)
	}
	priv, err = crypto.ImportPrivateKey(der)
	if err != nil {
		return "", "", nil, err
	}
	return hostname, clientID, priv, nil
}

// appKey returns the application key when the store is bound.
func (sm *SecretsManager) appKey() ([]byte, bool, error) {
	enc, ok, err := sm.store.Get(storage.KeyAppKey)
	if err != nil || !ok {
		return nil, false, err
	}
	key, err := crypto.DecodeBase64(enc)
	if err != nil {
		return nil, false, fmt.Errorf("app key: %w", err)
	}
	return key, true, nil
}

// serverKeyID picks the pinned key id for the next request: an explicit
// option wins, then the id the server acknowledged at binding, then the
// latest pinned id.
func (sm *SecretsManager) serverKeyID() int {
	if sm.keyID != 0 {
		return sm.keyID
	}
	if s, ok, err := sm.store.Get(storage.KeyServerPublicKeyID); err == nil && ok {
		if id, err := strconv.Atoi(s); err == nil {
			return id
		}
	}
	return 0
}

// post performs one framed API call: generate a transmission key, encrypt
// the payload, sign wrappedKey || ciphertext with the device key, POST,
// and decrypt the response under the same raw key. The raw key never
// leaves this frame except through the opt-in response cache.
func (sm *SecretsManager) post(ctx context.Context, endpoint string, payload any, cacheable bool) ([]byte, error) {
	hostname, _, priv, err := sm.credentials()
	if err != nil {
		return nil, err
	}

	tk, err := transmission.New(sm.ring, sm.serverKeyID())
	if err != nil {
		return nil, err
	}
	plain, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	ct, err := crypto.Encrypt(plain, tk.RawKey)
	if err != nil {
		return nil, err
	}

	signed := make([]byte, 0, len(tk.WrappedKey)+len(ct))
	signed = append(signed, tk.WrappedKey...)
	signed = append(signed, ct...)
	sig, err := crypto.Sign(signed, priv)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(wireRequest{
		PublicKeyID:     tk.PublicKeyID,
		TransmissionKey: crypto.EncodeBase64(tk.WrappedKey),
		Payload:         crypto.EncodeBase64(ct),
		Signature:       crypto.EncodeBase64(sig),
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	reqURL := apiURL(hostname, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := sm.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	sm.log.Debug("api call",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, serverErrorFrom(resp.StatusCode, respBody)
	}
	if len(respBody) == 0 {
		return nil, nil
	}

	// The tag must verify before a single response byte is interpreted.
	respPlain, err := crypto.Decrypt(respBody, tk.RawKey)
	if err != nil {
		return nil, err
	}
	if cacheable && sm.cache {
		blob := make([]byte, 0, len(tk.RawKey)+len(respBody))
		blob = append(blob, tk.RawKey...)
		blob = append(blob, respBody...)
		if err := sm.store.Set(storage.KeyCachedResponse, crypto.EncodeBase64(blob)); err != nil {
			sm.log.Warn("cache last response", zap.Error(err))
		}
	}
	return respPlain, nil
}

// apiURL builds the endpoint URL; a hostname with an explicit scheme
// (as mock servers use) passes through unchanged.
func apiURL(hostname, endpoint string) string {
	base := hostname
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return base + "/api/rest/sm/v1/" + endpoint
}

// serverErrorFrom maps a non-200 response onto the error kinds callers
// switch on, keeping the server's message verbatim.
func serverErrorFrom(status int, body []byte) error {
	var se serverError
	if err := json.Unmarshal(body, &se); err != nil {
		return fmt.Errorf("server returned status %d", status)
	}
	switch se.Error {
	case "access_denied":
		return fmt.Errorf("%w: %s", ErrAccessDenied, se.Message)
	case "revision_mismatch":
		return fmt.Errorf("%w: %s", ErrRevisionConflict, se.Message)
	}
	return fmt.Errorf("server error %q (status %d): %s", se.Error, status, se.Message)
}

// ensureBound completes the one-time binding exchange if the store is
// still unbound: send the device public key and binding secret, receive
// the app key wrapped to the device key, persist the credentials and
// discard the secret. Serialized so concurrent first calls bind once.
func (sm *SecretsManager) ensureBound(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, bound, err := sm.appKey(); err != nil {
		return err
	} else if bound {
		return nil
	}

	secret, ok, err := sm.store.Get(storage.KeyBindingSecret)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("store is unbound and holds no binding secret; re-initialize with a new token")
	}
	_, clientID, priv, err := sm.credentials()
	if err != nil {
		return err
	}
	pubBytes, err := crypto.PublicKeyBytes(&priv.PublicKey)
	if err != nil {
		return err
	}

	respPlain, err := sm.post(ctx, endpointBind, bindPayload{
		ClientVersion: clientVersion,
		ClientID:      clientID,
		PublicKey:     crypto.EncodeBase64(pubBytes),
		BindingSecret: secret,
	}, false)
	if err != nil {
		return fmt.Errorf("bind: %w", err)
	}

	var br bindResponse
	if err := json.Unmarshal(respPlain, &br); err != nil {
		return fmt.Errorf("decode bind response: %w", err)
	}
	wrapped, err := crypto.DecodeBase64(br.EncryptedAppKey)
	if err != nil {
		return fmt.Errorf("bind response app key: %w", err)
	}
	appKey, err := crypto.PublicDecrypt(wrapped, priv)
	if err != nil {
		return fmt.Errorf("unwrap app key: %w", err)
	}

	if err := sm.store.Set(storage.KeyAppKey, crypto.EncodeBase64(appKey)); err != nil {
		return fmt.Errorf("persist app key: %w", err)
	}
	if br.ServerPublicKeyID != 0 {
		if err := sm.store.Set(storage.KeyServerPublicKeyID, strconv.Itoa(br.ServerPublicKeyID)); err != nil {
			return fmt.Errorf("persist server key id: %w", err)
		}
	}
	if err := sm.store.Set(storage.KeyBoundFlag, "true"); err != nil {
		return fmt.Errorf("persist bound flag: %w", err)
	}
	if err := sm.store.Delete(storage.KeyBindingSecret); err != nil {
		return fmt.Errorf("discard binding secret: %w", err)
	}
	sm.log.Info("device bound")
	return nil
}

// GetSecrets fetches and decrypts the vault, optionally limited to the
// given record uids. With caching enabled, a transport failure falls back
// to the last persisted response; server rejections and crypto failures
// never do.
func (sm *SecretsManager) GetSecrets(ctx context.Context, uids ...string) (*vault.Vault, error) {
	if err := sm.ensureBound(ctx); err != nil {
		return nil, err
	}
	_, clientID, _, err := sm.credentials()
	if err != nil {
		return nil, err
	}

	respPlain, err := sm.post(ctx, endpointGetSecrets, getSecretsPayload{
		ClientVersion:    clientVersion,
		ClientID:         clientID,
		RequestedRecords: uids,
	}, true)
	if err != nil {
		var ue *url.Error
		if sm.cache && errors.As(err, &ue) {
			cached, cacheErr := sm.cachedResponse()
			if cacheErr != nil {
				return nil, err
			}
			sm.log.Warn("serving cached response after transport failure", zap.Error(err))
			respPlain = cached
		} else {
			return nil, err
		}
	}

	var sr secretsResponse
	if err := json.Unmarshal(respPlain, &sr); err != nil {
		return nil, fmt.Errorf("decode secrets response: %w", err)
	}
	appKey, bound, err := sm.appKey()
	if err != nil || !bound {
		return nil, fmt.Errorf("app key unavailable: %w", err)
	}
	return vault.Decrypt(sr.Folders, sr.Records, appKey)
}

// cachedResponse decrypts the persisted last response blob.
func (sm *SecretsManager) cachedResponse() ([]byte, error) {
	enc, ok, err := sm.store.Get(storage.KeyCachedResponse)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("no cached response")
	}
	blob, err := crypto.DecodeBase64(enc)
	if err != nil || len(blob) <= crypto.KeySize {
		return nil, errors.New("cached response malformed")
	}
	return crypto.Decrypt(blob[crypto.KeySize:], blob[:crypto.KeySize])
}

// UpdateSecret re-encrypts a locally mutated record under its unchanged
// record key and submits it with the current known revision. On success
// the local revision advances to the server's acknowledged value; a stale
// revision surfaces ErrRevisionConflict and changes nothing server-side.
func (sm *SecretsManager) UpdateSecret(ctx context.Context, rec *vault.Record) error {
	if len(rec.RecordKey) != crypto.KeySize {
		return fmt.Errorf("record %s: %w", rec.UID, vault.ErrKeyUnavailable)
	}
	_, clientID, _, err := sm.credentials()
	if err != nil {
		return err
	}
	data, err := rec.EncryptData()
	if err != nil {
		return err
	}
	respPlain, err := sm.post(ctx, endpointUpdateSecret, updateSecretPayload{
		ClientVersion: clientVersion,
		ClientID:      clientID,
		RecordUID:     rec.UID,
		Data:          data,
		Revision:      rec.Revision,
	}, false)
	if err != nil {
		return err
	}
	var ur updateSecretResponse
	if err := json.Unmarshal(respPlain, &ur); err != nil {
		return fmt.Errorf("decode update response: %w", err)
	}
	rec.Revision = ur.Revision
	return nil
}

// CreateSecret creates a record inside folderUID (or directly under the
// application when folderUID is empty). The folder's key must be present
// in the supplied vault; folders stay listed even when empty so their keys
// resolve. A missing folder fails with ErrKeyUnavailable rather than
// guessing a scope key. Returns the new record's uid.
func (sm *SecretsManager) CreateSecret(ctx context.Context, v *vault.Vault, folderUID string, data vault.RecordData) (string, error) {
	appKey, bound, err := sm.appKey()
	if err != nil || !bound {
		return "", fmt.Errorf("app key unavailable: %w", err)
	}
	scopeKey := appKey
	if folderUID != "" {
		folder, ok := v.Folders[folderUID]
		if !ok {
			return "", fmt.Errorf("folder %s: %w", folderUID, vault.ErrKeyUnavailable)
		}
		scopeKey = folder.FolderKey
	}

	rec, err := vault.NewRecord(folderUID, data)
	if err != nil {
		return "", err
	}
	wrappedKey, err := vault.WrapKey(rec.RecordKey, scopeKey)
	if err != nil {
		return "", err
	}
	blob, err := rec.EncryptData()
	if err != nil {
		return "", err
	}
	_, clientID, _, err := sm.credentials()
	if err != nil {
		return "", err
	}
	_, err = sm.post(ctx, endpointCreateSecret, createSecretPayload{
		ClientVersion: clientVersion,
		ClientID:      clientID,
		RecordUID:     rec.UID,
		RecordKey:     wrappedKey,
		FolderUID:     folderUID,
		Data:          blob,
	}, false)
	if err != nil {
		return "", err
	}
	return rec.UID, nil
}

// DeleteSecret removes records by uid.
func (sm *SecretsManager) DeleteSecret(ctx context.Context, uids ...string) error {
	if err := sm.ensureBound(ctx); err != nil {
		return err
	}
	_, clientID, _, err := sm.credentials()
	if err != nil {
		return err
	}
	_, err = sm.post(ctx, endpointDeleteSecret, deleteSecretPayload{
		ClientVersion: clientVersion,
		ClientID:      clientID,
		RecordUIDs:    uids,
	}, false)
	return err
}

// DownloadFile fetches an attachment's encrypted content and decrypts it
// with the per-file key. The whole blob downloads before the tag check;
// nothing streams out of an unauthenticated body.
func (sm *SecretsManager) DownloadFile(ctx context.Context, f *vault.File) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download: %w", err)
	}
	resp, err := sm.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", f.UID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file %s: status %d", f.UID, resp.StatusCode)
	}
	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", f.UID, err)
	}
	return f.DecryptFileContent(blob)
}

// GetNotation fetches the vault and resolves a notation path to a single
// string. Multiple values (composite field, index omitted) concatenate in
// document order, longstanding behavior scripts rely on. A path that
// resolves to nothing fails with notation.ErrMissingField.
func (sm *SecretsManager) GetNotation(ctx context.Context, path string) (string, error) {
	results, err := sm.TryGetNotationResults(ctx, path)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", fmt.Errorf("%q: %w", path, notation.ErrMissingField)
	}
	return strings.Join(results, ""), nil
}

// TryGetNotationResults is the soft variant: a path over a missing record
// or field yields an empty slice, not an error. Syntax errors and
// ambiguous titles still fail.
func (sm *SecretsManager) TryGetNotationResults(ctx context.Context, path string) ([]string, error) {
	// parse before any network traffic
	q, err := notation.Parse(path)
	if err != nil {
		return nil, err
	}
	v, err := sm.GetSecrets(ctx)
	if err != nil {
		return nil, err
	}
	return notation.Execute(v.RecordList(), q)
}
