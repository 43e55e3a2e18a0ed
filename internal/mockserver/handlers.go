package mockserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Keeper-Security/secrets-manager-sub007/internal/crypto"
	"github.com/Keeper-Security/secrets-manager-sub007/internal/vault"
)

// Wire mirror types. These re-declare the client's JSON contract on the
// server side of the boundary, as the real backend does.

type apiRequest struct {
	PublicKeyID     int    `json:"publicKeyId"`
	TransmissionKey string `json:"transmissionKey"`
	Payload         string `json:"payload"`
	Signature       string `json:"signature"`
}

type bindRequest struct {
	ClientID      string `json:"clientId"`
	PublicKey     string `json:"publicKey"`
	BindingSecret string `json:"bindingSecret"`
}

type getSecretsRequest struct {
	ClientID         string   `json:"clientId"`
	RequestedRecords []string `json:"requestedRecords"`
}

type updateSecretRequest struct {
	ClientID  string `json:"clientId"`
	RecordUID string `json:"recordUid"`
	Data      string `json:"data"`
	Revision  int64  `json:"revision"`
}

type createSecretRequest struct {
	ClientID  string `json:"clientId"`
	RecordUID string `json:"recordUid"`
	RecordKey string `json:"recordKey"`
	FolderUID string `json:"folderUid"`
	Data      string `json:"data"`
}

type deleteSecretRequest struct {
	ClientID   string   `json:"clientId"`
	RecordUIDs []string `json:"recordUids"`
}

// Router mounts the protocol endpoints the way the production service
// exposes them, plus the file content host.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(withRequestLogging(s.log))

	r.Route("/api/rest/sm/v1", func(r chi.Router) {
		r.Use(chiMiddleware.AllowContentType("application/json"))
		r.Post("/bind", s.handleBind)
		r.Post("/get_secrets", s.handleGetSecrets)
		r.Post("/update_secret", s.handleUpdateSecret)
		r.Post("/create_secret", s.handleCreateSecret)
		r.Post("/delete_secret", s.handleDeleteSecret)
	})
	r.Get("/files/{fileUid}", s.handleFileDownload)
	return r
}

// withRequestLogging tags each request with a correlation id and logs its
// method, path and id.
func withRequestLogging(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := uuid.NewString()
			log.Debug("request",
				zap.String("id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path))
			w.Header().Set("X-Request-Id", reqID)
			next.ServeHTTP(w, r)
		})
	}
}

// writeAPIError emits the JSON error body clients map onto error kinds.
func writeAPIError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": msg,
	})
}

// openedRequest is one successfully unwrapped API call: the raw key the
// response must be encrypted under, plus the signed bytes and signature
// still awaiting device verification.
type openedRequest struct {
	rawKey []byte
	signed []byte
	sig    []byte
}

// openRequest unwraps the transmission key and decrypts the payload into
// dst. Every cryptographic failure collapses to access_denied: the caller
// learns nothing about which stage rejected.
func (s *Service) openRequest(w http.ResponseWriter, r *http.Request, dst any) (*openedRequest, bool) {
	var req apiRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "bad_request", "malformed request body")
		return nil, false
	}
	wrapped, err := crypto.DecodeBase64(req.TransmissionKey)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "access_denied", "transmission key rejected")
		return nil, false
	}
	if req.PublicKeyID != serverKeyID {
		writeAPIError(w, http.StatusUnauthorized, "access_denied", "unknown server key id")
		return nil, false
	}
	rawKey, err := crypto.PublicDecrypt(wrapped, s.serverPriv)
	if err != nil || len(rawKey) != crypto.KeySize {
		writeAPIError(w, http.StatusUnauthorized, "access_denied", "transmission key rejected")
		return nil, false
	}
	ct, err := crypto.DecodeBase64(req.Payload)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "access_denied", "payload rejected")
		return nil, false
	}
	plain, err := crypto.Decrypt(ct, rawKey)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "access_denied", "payload rejected")
		return nil, false
	}
	if err := json.Unmarshal(plain, dst); err != nil {
		writeAPIError(w, http.StatusBadRequest, "bad_request", "malformed payload")
		return nil, false
	}
	sig, err := crypto.DecodeBase64(req.Signature)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "access_denied", "signature rejected")
		return nil, false
	}
	return &openedRequest{
		rawKey: rawKey,
		signed: append(wrapped, ct...),
		sig:    sig,
	}, true
}

// verifySignature checks the device signature over wrappedKey || payload.
func (o *openedRequest) verifySignature(pubRaw []byte, w http.ResponseWriter) bool {
	pub, err := crypto.ParseSigningKey(pubRaw)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "access_denied", "device key rejected")
		return false
	}
	if !crypto.Verify(o.signed, o.sig, pub) {
		writeAPIError(w, http.StatusUnauthorized, "access_denied", "invalid signature")
		return false
	}
	return true
}

// respond encrypts the response document under the request's raw key and
// writes it as opaque bytes.
func (s *Service) respond(w http.ResponseWriter, rawKey []byte, doc any) {
	plain, err := json.Marshal(doc)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "internal", "encode response")
		return
	}
	blob, err := crypto.Encrypt(plain, rawKey)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "internal", "encrypt response")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(blob)
}

func (s *Service) handleBind(w http.ResponseWriter, r *http.Request) {
	var req bindRequest
	o, ok := s.openRequest(w, r, &req)
	if !ok {
		return
	}
	pubRaw, err := crypto.DecodeBase64(req.PublicKey)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "access_denied", "device key rejected")
		return
	}
	// binding requests self-certify: the signature must verify against
	// the key being enrolled, possession of the one-time secret authorizes
	if !o.verifySignature(pubRaw, w) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	used, known := s.bindingSecrets[req.BindingSecret]
	if !known {
		writeAPIError(w, http.StatusUnauthorized, "access_denied", "one-time token is not valid for this application")
		return
	}
	if used {
		writeAPIError(w, http.StatusUnauthorized, "access_denied", "one-time token has already been used")
		return
	}
	s.bindingSecrets[req.BindingSecret] = true
	s.devices[req.ClientID] = pubRaw

	devicePub, err := crypto.ParsePublicKey(pubRaw)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "access_denied", "device key rejected")
		return
	}
	wrappedAppKey, err := crypto.PublicEncrypt(s.appKey, devicePub)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "internal", "wrap app key")
		return
	}
	s.log.Info("device bound", zap.String("clientId", req.ClientID[:8]))
	s.respond(w, o.rawKey, map[string]any{
		"encryptedAppKey":   crypto.EncodeBase64(wrappedAppKey),
		"serverPublicKeyId": serverKeyID,
	})
}

// authDevice verifies the caller against an enrolled device.
func (s *Service) authDevice(clientID string, o *openedRequest, w http.ResponseWriter) bool {
	pubRaw, ok := s.devices[clientID]
	if !ok {
		writeAPIError(w, http.StatusUnauthorized, "access_denied", "unknown client")
		return false
	}
	return o.verifySignature(pubRaw, w)
}

func (s *Service) handleGetSecrets(w http.ResponseWriter, r *http.Request) {
	var req getSecretsRequest
	o, ok := s.openRequest(w, r, &req)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.authDevice(req.ClientID, o, w) {
		return
	}

	wanted := func(uid string) bool {
		if len(req.RequestedRecords) == 0 {
			return true
		}
		for _, u := range req.RequestedRecords {
			if u == uid {
				return true
			}
		}
		return false
	}

	// Folders always list, even when empty of records, so clients can
	// resolve folder keys for later updates and creates.
	var folders []*vault.FolderPayload
	folderRecords := make(map[string][]*vault.RecordPayload)
	var topRecords []*vault.RecordPayload
	for uid, rec := range s.records {
		if !wanted(uid) {
			continue
		}
		rp, err := s.recordPayload(uid, rec)
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, "internal", "build record")
			return
		}
		if rec.folderUID == "" {
			topRecords = append(topRecords, rp)
		} else {
			folderRecords[rec.folderUID] = append(folderRecords[rec.folderUID], rp)
		}
	}
	for uid, f := range s.folders {
		parentKey := s.appKey
		if f.parentUID != "" {
			parentKey = s.folders[f.parentUID].key
		}
		wrapped, err := vault.WrapKey(f.key, parentKey)
		if err != nil {
			writeAPIError(w, http.StatusInternalServerError, "internal", "wrap folder key")
			return
		}
		folders = append(folders, &vault.FolderPayload{
			FolderUID: uid,
			FolderKey: wrapped,
			ParentUID: f.parentUID,
			Records:   folderRecords[uid],
		})
	}
	s.respond(w, o.rawKey, map[string]any{
		"folders": folders,
		"records": topRecords,
	})
}

// recordPayload renders one record for a response, wrapping its key under
// the owning scope.
func (s *Service) recordPayload(uid string, rec *recordState) (*vault.RecordPayload, error) {
	wrappedKey := rec.wrappedKey
	if wrappedKey == "" {
		scopeKey := s.appKey
		if rec.folderUID != "" {
			scopeKey = s.folders[rec.folderUID].key
		}
		var err error
		wrappedKey, err = vault.WrapKey(rec.key, scopeKey)
		if err != nil {
			return nil, err
		}
	}
	rp := &vault.RecordPayload{
		RecordUID: uid,
		RecordKey: wrappedKey,
		Data:      rec.data,
		Revision:  rec.revision,
	}
	for _, f := range rec.files {
		wrappedFileKey, err := vault.WrapKey(f.key, rec.key)
		if err != nil {
			return nil, err
		}
		rp.Files = append(rp.Files, &vault.FilePayload{
			FileUID: f.uid,
			FileKey: wrappedFileKey,
			Data:    f.meta,
			URL:     s.baseURL + "/files/" + f.uid,
		})
	}
	return rp, nil
}

func (s *Service) handleUpdateSecret(w http.ResponseWriter, r *http.Request) {
	var req updateSecretRequest
	o, ok := s.openRequest(w, r, &req)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.authDevice(req.ClientID, o, w) {
		return
	}
	rec, ok := s.records[req.RecordUID]
	if !ok {
		writeAPIError(w, http.StatusNotFound, "not_found", "record does not exist")
		return
	}
	if req.Revision != rec.revision {
		writeAPIError(w, http.StatusConflict, "revision_mismatch",
			"record was modified since it was fetched")
		return
	}
	rec.data = req.Data
	rec.revision++
	s.respond(w, o.rawKey, map[string]any{"revision": rec.revision})
}

func (s *Service) handleCreateSecret(w http.ResponseWriter, r *http.Request) {
	var req createSecretRequest
	o, ok := s.openRequest(w, r, &req)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.authDevice(req.ClientID, o, w) {
		return
	}
	if req.FolderUID != "" {
		if _, exists := s.folders[req.FolderUID]; !exists {
			writeAPIError(w, http.StatusNotFound, "not_found", "folder does not exist")
			return
		}
	}
	if _, exists := s.records[req.RecordUID]; exists {
		writeAPIError(w, http.StatusConflict, "uid_in_use", "record uid already exists")
		return
	}
	s.records[req.RecordUID] = &recordState{
		wrappedKey: req.RecordKey,
		folderUID:  req.FolderUID,
		data:       req.Data,
		revision:   1,
	}
	s.respond(w, o.rawKey, map[string]any{"revision": int64(1)})
}

func (s *Service) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	var req deleteSecretRequest
	o, ok := s.openRequest(w, r, &req)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.authDevice(req.ClientID, o, w) {
		return
	}
	for _, uid := range req.RecordUIDs {
		delete(s.records, uid)
	}
	s.respond(w, o.rawKey, map[string]any{"deleted": req.RecordUIDs})
}

func (s *Service) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	fileUID := chi.URLParam(r, "fileUid")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		for _, f := range rec.files {
			if f.uid == fileUID {
				w.Header().Set("Content-Type", "application/octet-stream")
				_, _ = w.Write(f.content)
				return
			}
		}
	}
	http.NotFound(w, r)
}
