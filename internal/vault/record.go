package vault

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/Keeper-Security/secrets-manager-sub007/internal/crypto"
)

// RecordList returns the records of the arena ordered by uid, so callers
// that iterate (notation resolution, listings) see a stable order.
func (v *Vault) RecordList() []*Record {
	out := make([]*Record, 0, len(v.Records))
	for _, r := range v.Records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// NewUID returns a fresh opaque uid for a record or folder: 16 random
// bytes rendered as unpadded base64url, matching the server's uid format.
func NewUID() string {
	u := uuid.New()
	return crypto.EncodeBase64(u[:])
}

// NewRecord builds an unsaved record with a fresh uid and record key.
// Revision 0 marks it as never submitted.
func NewRecord(folderUID string, data RecordData) (*Record, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &Record{
		UID:       NewUID(),
		RecordKey: key,
		FolderUID: folderUID,
		Data:      data,
	}, nil
}

// matches reports whether a field answers to name: by label when one is
// set, otherwise by type. Matching is case-sensitive.
func (f *Field) matches(name string) bool {
	if f.Label != "" {
		return f.Label == name
	}
	return f.Type == name
}

// FindField returns the first field in document order matching name, or
// nil if absent. custom selects the custom section instead of fields.
func (d *RecordData) FindField(name string, custom bool) *Field {
	section := d.Fields
	if custom {
		section = d.Custom
	}
	for i := range section {
		if section[i].matches(name) {
			return &section[i]
		}
	}
	return nil
}

// GetFieldValue returns the first value of the first matching standard
// field as a string, or "" if the field is absent or empty.
func (d *RecordData) GetFieldValue(name string) string {
	f := d.FindField(name, false)
	if f == nil || len(f.Value) == 0 {
		return ""
	}
	if s, ok := f.Value[0].(string); ok {
		return s
	}
	return fmt.Sprint(f.Value[0])
}

// SetFieldValue replaces the value list of the first matching standard
// field. It returns false when no such field exists; setters never create
// fields implicitly.
func (d *RecordData) SetFieldValue(name string, values ...any) bool {
	f := d.FindField(name, false)
	if f == nil {
		return false
	}
	f.Value = values
	return true
}

// SetCustomFieldValue replaces the value list of the first matching custom
// field, returning false when absent.
func (d *RecordData) SetCustomFieldValue(name string, values ...any) bool {
	f := d.FindField(name, true)
	if f == nil {
		return false
	}
	f.Value = values
	return true
}

// FindFile returns the attachment whose title or name equals name, or nil.
func (r *Record) FindFile(name string) *File {
	for _, f := range r.Files {
		if f.Title == name || f.Name == name {
			return f
		}
	}
	return nil
}
