package client

import "github.com/Keeper-Security/secrets-manager-sub007/internal/vault"

// API endpoints, rooted at https://{hostname}/api/rest/sm/v1/.
const (
	endpointBind         = "bind"
	endpointGetSecrets   = "get_secrets"
	endpointUpdateSecret = "update_secret"
	endpointCreateSecret = "create_secret"
	endpointDeleteSecret = "delete_secret"
)

// clientVersion identifies this implementation to the backend.
const clientVersion = "sm-go/1.0"

// wireRequest is the outer POST body of every API call: the wrapped
// transmission key, the pinned key id it was wrapped against, the
// AEAD-encrypted application payload and the device signature over
// wrappedKey || ciphertext. All byte fields are unpadded base64url.
// The response body is the server payload encrypted under the same raw
// transmission key, returned as opaque bytes.
type wireRequest struct {
	PublicKeyID     int    `json:"publicKeyId"`
	TransmissionKey string `json:"transmissionKey"`
	Payload         string `json:"payload"`
	Signature       string `json:"signature"`
}

// serverError is the decoded body of a non-200 response. Message carries
// the server's explanation verbatim.
type serverError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// bindPayload converts a one-time token into device credentials. The
// device public key travels inside the encrypted payload; the server
// wraps the app key to it so only this device can unwrap.
type bindPayload struct {
	ClientVersion string `json:"clientVersion"`
	ClientID      string `json:"clientId"`
	PublicKey     string `json:"publicKey"`
	BindingSecret string `json:"bindingSecret"`
}

type bindResponse struct {
	EncryptedAppKey   string `json:"encryptedAppKey"`
	ServerPublicKeyID int    `json:"serverPublicKeyId"`
}

type getSecretsPayload struct {
	ClientVersion    string   `json:"clientVersion"`
	ClientID         string   `json:"clientId"`
	RequestedRecords []string `json:"requestedRecords,omitempty"`
}

type secretsResponse struct {
	Folders []*vault.FolderPayload `json:"folders,omitempty"`
	Records []*vault.RecordPayload `json:"records,omitempty"`
}

type updateSecretPayload struct {
	ClientVersion string `json:"clientVersion"`
	ClientID      string `json:"clientId"`
	RecordUID     string `json:"recordUid"`
	Data          string `json:"data"`
	Revision      int64  `json:"revision"`
}

type updateSecretResponse struct {
	Revision int64 `json:"revision"`
}

type createSecretPayload struct {
	ClientVersion string `json:"clientVersion"`
	ClientID      string `json:"clientId"`
	RecordUID     string `json:"recordUid"`
	RecordKey     string `json:"recordKey"`
	FolderUID     string `json:"folderUid,omitempty"`
	Data          string `json:"data"`
}

type deleteSecretPayload struct {
	ClientVersion string   `json:"clientVersion"`
	ClientID      string   `json:"clientId"`
	RecordUIDs    []string `json:"recordUids"`
}
