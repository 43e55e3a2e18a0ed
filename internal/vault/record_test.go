package vault

import (
	"testing"

	"github.com/Keeper-Security/secrets-manager-sub007/internal/crypto"
)

func TestFieldMatchingPrecedence(t *testing.T) {
	data := RecordData{
		Fields: []Field{
			{Type: "login", Label: "Username", Value: []any{"alice"}},
			{Type: "password", Value: []any{"hunter2"}},
			{Type: "url", Label: "url", Value: []any{"https://a.example"}},
			{Type: "url", Value: []any{"https://b.example"}},
		},
	}

	// a label, when set, shadows the type
	if f := data.FindField("login", false); f != nil {
		t.Errorf("type match should not apply to labelled field, got %+v", f)
	}
	if f := data.FindField("Username", false); f == nil || f.Value[0] != "alice" {
		t.Errorf("label match failed: %+v", f)
	}
	// matching is case-sensitive
	if f := data.FindField("username", false); f != nil {
		t.Error("label match must be case-sensitive")
	}
	// first match in document order wins
	if f := data.FindField("url", false); f == nil || f.Value[0] != "https://a.example" {
		t.Errorf("expected first url field, got %+v", f)
	}
	if got := data.GetFieldValue("password"); got != "hunter2" {
		t.Errorf("GetFieldValue = %q", got)
	}
	if got := data.GetFieldValue("absent"); got != "" {
		t.Errorf("absent field returned %q", got)
	}
}

func TestSettersNeverCreateFields(t *testing.T) {
	data := RecordData{
		Fields: []Field{{Type: "login", Value: []any{"old"}}},
		Custom: []Field{{Type: "text", Label: "API Key", Value: []any{"k1"}}},
	}

	if !data.SetFieldValue("login", "new") {
		t.Fatal("SetFieldValue refused an existing field")
	}
	if got := data.GetFieldValue("login"); got != "new" {
		t.Errorf("value not replaced: %q", got)
	}
	if data.SetFieldValue("missing", "x") {
		t.Error("SetFieldValue created a field")
	}
	if len(data.Fields) != 1 {
		t.Errorf("field list grew: %+v", data.Fields)
	}

	if !data.SetCustomFieldValue("API Key", "k2", "k3") {
		t.Fatal("SetCustomFieldValue refused an existing field")
	}
	if got := data.Custom[0].Value; len(got) != 2 || got[0] != "k2" {
		t.Errorf("custom value not replaced: %v", got)
	}
	if data.SetCustomFieldValue("missing", "x") {
		t.Error("SetCustomFieldValue created a field")
	}
}

func TestNewRecordAndUID(t *testing.T) {
	rec, err := NewRecord("folder-1", RecordData{Title: "t", Type: "login"})
	if err != nil {
		t.Fatalf("NewRecord failed: %v", err)
	}
	if rec.Revision != 0 {
		t.Errorf("fresh record has revision %d", rec.Revision)
	}
	if rec.FolderUID != "folder-1" {
		t.Errorf("folder uid not carried: %q", rec.FolderUID)
	}
	if len(rec.RecordKey) != crypto.KeySize {
		t.Errorf("record key is %d bytes", len(rec.RecordKey))
	}

	uid := NewUID()
	raw, err := crypto.DecodeBase64(uid)
	if err != nil {
		t.Fatalf("uid is not base64url: %v", err)
	}
	if len(raw) != 16 {
		t.Errorf("uid decodes to %d bytes", len(raw))
	}
	if NewUID() == uid {
		t.Error("two uids collided")
	}
}

func TestRecordListOrdered(t *testing.T) {
	v := &Vault{Records: map[string]*Record{
		"ccc": {UID: "ccc"},
		"aaa": {UID: "aaa"},
		"bbb": {UID: "bbb"},
	}}
	list := v.RecordList()
	if len(list) != 3 || list[0].UID != "aaa" || list[2].UID != "ccc" {
		t.Errorf("unexpected order: %v", []string{list[0].UID, list[1].UID, list[2].UID})
	}
}

func TestFindFile(t *testing.T) {
	rec := &Record{Files: []*File{
		{UID: "f1", Name: "id_rsa", Title: "deploy key"},
		{UID: "f2", Name: "notes.txt", Title: "notes.txt"},
	}}
	if f := rec.FindFile("deploy key"); f == nil || f.UID != "f1" {
		t.Errorf("lookup by title failed: %+v", f)
	}
	if f := rec.FindFile("id_rsa"); f == nil || f.UID != "f1" {
		t.Errorf("lookup by name failed: %+v", f)
	}
	if f := rec.FindFile("absent"); f != nil {
		t.Errorf("expected nil for unknown file, got %+v", f)
	}
}
