// Package mockserver implements a protocol-faithful fake of the secrets
// backend: transmission-key unwrap, payload decryption, device signature
// verification, one-time binding and revision-checked updates against
// in-memory state. It backs the client's end-to-end tests and the
// mockvault development binary. Unlike the real zero-knowledge backend it
// holds plaintext keys, because it is also the seeding harness.
package mockserver

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Keeper-Security/secrets-manager-sub007/internal/crypto"
	"github.com/Keeper-Security/secrets-manager-sub007/internal/transmission"
	"github.com/Keeper-Security/secrets-manager-sub007/internal/vault"
)

// serverKeyID is the pinned key id this fake advertises in its ring.
const serverKeyID = 1

type folderState struct {
	key       []byte
	parentUID string
}

type recordState struct {
	// key is the plaintext record key for seeded records; created records
	// arrive with wrappedKey only, which the server stores opaquely.
	key        []byte
	wrappedKey string
	folderUID  string
	data       string // base64url AEAD blob, opaque to the server
	revision   int64
	files      []*fileState
}

type fileState struct {
	uid     string
	key     []byte
	meta    string // base64url AEAD blob of the metadata document
	content []byte // AEAD blob served on download
}

// Service holds the fake backend's state. All mutating handlers serialize
// on mu, mirroring the single-writer guarantee of the real service.
type Service struct {
	mu  sync.Mutex
	log *zap.Logger

	serverPriv *ecdsa.PrivateKey
	appKey     []byte

	// bindingSecrets maps registered one-time secrets to whether they
	// have been consumed.
	bindingSecrets map[string]bool
	// devices maps client ids to their raw public signing keys.
	devices map[string][]byte

	folders map[string]*folderState
	records map[string]*recordState

	// baseURL prefixes file download URLs once the HTTP listener exists.
	baseURL string
}

// NewService builds a fake backend with a fresh server key pair and
// application key.
func NewService(log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	appKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &Service{
		log:            log,
		serverPriv:     priv,
		appKey:         appKey,
		bindingSecrets: make(map[string]bool),
		devices:        make(map[string][]byte),
		folders:        make(map[string]*folderState),
		records:        make(map[string]*recordState),
	}, nil
}

// KeyRing returns a pinned-key table containing this server's public key,
// for handing to clients under test.
func (s *Service) KeyRing() (*transmission.KeyRing, error) {
	pub, err := crypto.PublicKeyBytes(&s.serverPriv.PublicKey)
	if err != nil {
		return nil, err
	}
	return transmission.NewKeyRing(map[int]string{
		serverKeyID: crypto.EncodeBase64(pub),
	})
}

// ServerPublicKey returns the base64url point clients pin to reach this
// fake, in the form the ksm -serverkey flag accepts.
func (s *Service) ServerPublicKey() (string, error) {
	pub, err := crypto.PublicKeyBytes(&s.serverPriv.PublicKey)
	if err != nil {
		return "", err
	}
	return crypto.EncodeBase64(pub), nil
}

// NewToken registers a fresh one-time binding secret and returns it in
// REGION:SECRET form for the given region.
func (s *Service) NewToken(region string) (string, error) {
	secret, err := crypto.RandomBytes(32)
	if err != nil {
		return "", err
	}
	enc := crypto.EncodeBase64(secret)
	s.mu.Lock()
	s.bindingSecrets[enc] = false
	s.mu.Unlock()
	return region + ":" + enc, nil
}

// SetBaseURL sets the URL prefix for file downloads, normally the test
// listener's address.
func (s *Service) SetBaseURL(u string) {
	s.mu.Lock()
	s.baseURL = u
	s.mu.Unlock()
}

// AddFolder seeds a folder with a fresh key. parentUID empty makes it
// top-level (key wrapped by the app key in responses).
func (s *Service) AddFolder(parentUID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if parentUID != "" {
		if _, ok := s.folders[parentUID]; !ok {
			return "", fmt.Errorf("unknown parent folder %s", parentUID)
		}
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", err
	}
	uid := vault.NewUID()
	s.folders[uid] = &folderState{key: key, parentUID: parentUID}
	return uid, nil
}

// AddRecord seeds a record with a fresh key inside folderUID (empty for
// app-owned), starting at revision 1.
func (s *Service) AddRecord(folderUID string, data vault.RecordData) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if folderUID != "" {
		if _, ok := s.folders[folderUID]; !ok {
			return "", fmt.Errorf("unknown folder %s", folderUID)
		}
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", err
	}
	blob, err := encryptJSON(data, key)
	if err != nil {
		return "", err
	}
	uid := vault.NewUID()
	s.records[uid] = &recordState{
		key:       key,
		folderUID: folderUID,
		data:      blob,
		revision:  1,
	}
	return uid, nil
}

// AddFile attaches a file to a seeded record: fresh file key, encrypted
// metadata and encrypted content served from /files/{uid}.
func (s *Service) AddFile(recordUID, name string, content []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordUID]
	if !ok || rec.key == nil {
		return "", fmt.Errorf("unknown or opaque record %s", recordUID)
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", err
	}
	meta := map[string]any{
		"name": name, "title": name, "type": "application/octet-stream",
		"size": len(content),
	}
	metaBlob, err := encryptJSON(meta, key)
	if err != nil {
		return "", err
	}
	contentBlob, err := crypto.Encrypt(content, key)
	if err != nil {
		return "", err
	}
	uid := vault.NewUID()
	rec.files = append(rec.files, &fileState{
		uid: uid, key: key, meta: metaBlob, content: contentBlob,
	})
	return uid, nil
}

// Revision reports a record's current revision, for test assertions.
func (s *Service) Revision(recordUID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[recordUID]; ok {
		return rec.revision
	}
	return 0
}

// HasRecord reports whether a record exists, for test assertions.
func (s *Service) HasRecord(recordUID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[recordUID]
	return ok
}

// encryptJSON marshals v and seals it under key, returning base64url.
func encryptJSON(v any, key []byte) (string, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	blob, err := crypto.Encrypt(plain, key)
	if err != nil {
		return "", err
	}
	return crypto.EncodeBase64(blob), nil
}
