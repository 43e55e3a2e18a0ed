package vault

import (
	"encoding/json"
	"fmt"

	"github.com/Keeper-Security/secrets-manager-sub007/internal/crypto"
)

// Decrypt unwraps the key hierarchy of a fetch response and decrypts every
// record. Folder keys unwrap either directly under the application key
// (top-level) or under the parent folder's key (nested); record keys
// unwrap under their folder's key, or under the application key for
// un-foldered records. Each unwrap is an AEAD decryption, at most two hops
// deep for any record.
func Decrypt(folders []*FolderPayload, records []*RecordPayload, appKey []byte) (*Vault, error) {
	v := &Vault{
		Folders: make(map[string]*Folder),
		Records: make(map[string]*Record),
	}

	// Top-level folders first, then children keyed by their parents.
	// The hierarchy is at most one level deep per unwrap hop, but walking
	// until quiescence tolerates any response ordering.
	pending := append([]*FolderPayload(nil), folders...)
	for len(pending) > 0 {
		progressed := false
		remaining := pending[:0]
		for _, fp := range pending {
			var parentKey []byte
			switch {
			case fp.ParentUID == "":
				parentKey = appKey
			default:
				parent, ok := v.Folders[fp.ParentUID]
				if !ok {
					remaining = append(remaining, fp)
					continue
				}
				parentKey = parent.FolderKey
			}
			key, err := unwrapKey(fp.FolderKey, parentKey)
			if err != nil {
				return nil, fmt.Errorf("folder %s: %w", fp.FolderUID, err)
			}
			v.Folders[fp.FolderUID] = &Folder{
				UID:       fp.FolderUID,
				FolderKey: key,
				ParentUID: fp.ParentUID,
			}
			progressed = true
		}
		if !progressed {
			// orphaned subtree: parents absent from the response
			return nil, fmt.Errorf("folder %s: %w", remaining[0].FolderUID, ErrKeyUnavailable)
		}
		pending = remaining
	}

	for _, fp := range folders {
		folder := v.Folders[fp.FolderUID]
		for _, rp := range fp.Records {
			rec, err := decryptRecord(rp, folder.FolderKey, fp.FolderUID)
			if err != nil {
				return nil, err
			}
			v.Records[rec.UID] = rec
		}
	}
	for _, rp := range records {
		rec, err := decryptRecord(rp, appKey, "")
		if err != nil {
			return nil, err
		}
		v.Records[rec.UID] = rec
	}
	return v, nil
}

// decryptRecord unwraps one record key under scopeKey and decrypts the
// record document and its file references.
func decryptRecord(rp *RecordPayload, scopeKey []byte, folderUID string) (*Record, error) {
	recordKey, err := unwrapKey(rp.RecordKey, scopeKey)
	if err != nil {
		return nil, fmt.Errorf("record %s key: %w", rp.RecordUID, err)
	}
	blob, err := crypto.DecodeBase64(rp.Data)
	if err != nil {
		return nil, fmt.Errorf("record %s data: %w", rp.RecordUID, err)
	}
	plain, err := crypto.Decrypt(blob, recordKey)
	if err != nil {
		return nil, fmt.Errorf("record %s data: %w", rp.RecordUID, err)
	}
	var data RecordData
	if err := json.Unmarshal(plain, &data); err != nil {
		return nil, fmt.Errorf("record %s data: %w", rp.RecordUID, err)
	}

	rec := &Record{
		UID:       rp.RecordUID,
		Revision:  rp.Revision,
		RecordKey: recordKey,
		FolderUID: folderUID,
		Data:      data,
	}
	for _, f := range rp.Files {
		file, err := decryptFile(f, recordKey)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", rp.RecordUID, err)
		}
		rec.Files = append(rec.Files, file)
	}
	return rec, nil
}

// decryptFile unwraps a file key under the record key and decrypts the
// attachment metadata. Content stays encrypted until downloaded.
func decryptFile(fp *FilePayload, recordKey []byte) (*File, error) {
	fileKey, err := unwrapKey(fp.FileKey, recordKey)
	if err != nil {
		return nil, fmt.Errorf("file %s key: %w", fp.FileUID, err)
	}
	blob, err := crypto.DecodeBase64(fp.Data)
	if err != nil {
		return nil, fmt.Errorf("file %s meta: %w", fp.FileUID, err)
	}
	plain, err := crypto.Decrypt(blob, fileKey)
	if err != nil {
		return nil, fmt.Errorf("file %s meta: %w", fp.FileUID, err)
	}
	var meta fileMeta
	if err := json.Unmarshal(plain, &meta); err != nil {
		return nil, fmt.Errorf("file %s meta: %w", fp.FileUID, err)
	}
	return &File{
		UID:     fp.FileUID,
		FileKey: fileKey,
		Name:    meta.Name,
		Title:   meta.Title,
		Type:    meta.Type,
		Size:    meta.Size,
		URL:     fp.URL,
	}, nil
}

// unwrapKey decodes and AEAD-decrypts a wrapped 256-bit key.
func unwrapKey(encoded string, parentKey []byte) ([]byte, error) {
	blob, err := crypto.DecodeBase64(encoded)
	if err != nil {
		return nil, err
	}
	key, err := crypto.Decrypt(blob, parentKey)
	if err != nil {
		return nil, err
	}
	if len(key) != crypto.KeySize {
		return nil, fmt.Errorf("unwrapped key is %d bytes, want %d", len(key), crypto.KeySize)
	}
	return key, nil
}

// WrapKey AEAD-encrypts a key under parentKey, the inverse of the unwrap
// hops above. Used when creating records.
func WrapKey(key, parentKey []byte) (string, error) {
	blob, err := crypto.Encrypt(key, parentKey)
	if err != nil {
		return "", err
	}
	return crypto.EncodeBase64(blob), nil
}

// EncryptData re-serializes the record document and encrypts it under the
// record's existing key, returning the base64url blob submitted on update.
func (r *Record) EncryptData() (string, error) {
	plain, err := json.Marshal(r.Data)
	if err != nil {
		return "", fmt.Errorf("encode record %s: %w", r.UID, err)
	}
	blob, err := crypto.Encrypt(plain, r.RecordKey)
	if err != nil {
		return "", fmt.Errorf("encrypt record %s: %w", r.UID, err)
	}
	return crypto.EncodeBase64(blob), nil
}

// DecryptFileContent decrypts downloaded attachment bytes with the file's
// own key. The blob must be fully fetched first; the tag verifies before
// any plaintext is produced.
func (f *File) DecryptFileContent(blob []byte) ([]byte, error) {
	plain, err := crypto.Decrypt(blob, f.FileKey)
	if err != nil {
		return nil, fmt.Errorf("file %s content: %w", f.UID, err)
	}
	return plain, nil
}
