// Package vault models decrypted records and folders and implements the
// record crypto codec: unwrapping the folder/record key hierarchy returned
// by a fetch and re-encrypting mutated records for submission.
package vault

import "errors"

// ErrKeyUnavailable is returned when a folder or record key cannot be
// resolved through the hierarchy, e.g. a nested folder whose parent was
// not part of the response, or an update whose folder key is unknown.
var ErrKeyUnavailable = errors.New("folder or record key unavailable")

// Field is one typed entry of a record's fields or custom sections.
// Value is heterogeneous: strings for simple fields, objects for
// composites like phone numbers.
type Field struct {
	// Type identifies the field kind ("login", "password", "phone", ...).
	Type string `json:"type"`
	// Label is the user-facing name; may be empty.
	Label string `json:"label,omitempty"`
	// Value holds zero or more field values.
	Value []any `json:"value"`
}

// RecordData is the decrypted JSON document of one record.
type RecordData struct {
	Title  string  `json:"title"`
	Type   string  `json:"type"`
	Fields []Field `json:"fields"`
	Custom []Field `json:"custom,omitempty"`
	Notes  string  `json:"notes,omitempty"`
}

// File is a decrypted reference to a file attachment. Content downloads
// and decrypts independently of the record JSON.
type File struct {
	// UID identifies the attachment.
	UID string
	// FileKey decrypts the downloaded content blob.
	FileKey []byte
	// Name, Title, Type and Size come from the decrypted metadata.
	Name  string
	Title string
	Type  string
	Size  int64
	// URL is where the encrypted content is fetched from.
	URL string
}

// fileMeta is the decrypted form of a file reference's metadata blob.
type fileMeta struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	Type  string `json:"type"`
	Size  int64  `json:"size"`
}

// Record is one decrypted record with its unwrapped key. Mutate Data via
// the field setters, then re-encrypt with EncryptData for submission.
type Record struct {
	// UID identifies the record.
	UID string
	// Revision is the server's monotonically increasing revision. It must
	// match the server's current value for an update to be accepted, and
	// is advanced locally only after the server acknowledges an update.
	Revision int64
	// RecordKey is the unwrapped 256-bit key protecting Data.
	RecordKey []byte
	// FolderUID names the owning folder; empty for records owned directly
	// by the application.
	FolderUID string
	// Data is the decrypted record document.
	Data RecordData
	// Files lists decrypted attachment references.
	Files []*File
}

// Folder is one decrypted folder with its unwrapped key. Folders reference
// parents by uid only; the arena in Vault avoids live object cycles.
type Folder struct {
	// UID identifies the folder.
	UID string
	// FolderKey is the unwrapped 256-bit key for this folder's scope.
	FolderKey []byte
	// ParentUID names the parent folder; empty for top-level folders whose
	// key is wrapped directly by the application key.
	ParentUID string
}

// Vault is the arena of decrypted folders and records from one fetch,
// indexed by uid.
type Vault struct {
	Folders map[string]*Folder
	Records map[string]*Record
}

// RecordPayload is the wire form of one record inside a fetch response.
// Key and data blobs are base64url AEAD ciphertexts.
type RecordPayload struct {
	RecordUID string         `json:"recordUid"`
	RecordKey string         `json:"recordKey"`
	Data      string         `json:"data"`
	Revision  int64          `json:"revision"`
	Files     []*FilePayload `json:"files,omitempty"`
}

// FolderPayload is the wire form of one folder inside a fetch response.
// FolderKey is wrapped by the application key for top-level folders and by
// the parent folder's key when parentUid is set.
type FolderPayload struct {
	FolderUID string           `json:"folderUid"`
	FolderKey string           `json:"folderKey"`
	ParentUID string           `json:"parentUid,omitempty"`
	Records   []*RecordPayload `json:"records,omitempty"`
}

// FilePayload is the wire form of a file reference. FileKey is wrapped by
// the record key; Data is the encrypted metadata blob.
type FilePayload struct {
	FileUID string `json:"fileUid"`
	FileKey string `json:"fileKey"`
	Data    string `json:"data"`
	URL     string `json:"url"`
}
