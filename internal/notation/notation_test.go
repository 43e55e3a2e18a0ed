package notation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Keeper-Security/secrets-manager-sub007/internal/vault"
)

func TestParseValid(t *testing.T) {
	cases := []struct {
		path string
		want Query
	}{
		{"abc123/field/login", Query{Selector: "abc123", Section: "field", Name: "login", Index: -1}},
		{"abc123/custom_field/API Key", Query{Selector: "abc123", Section: "custom_field", Name: "API Key", Index: -1}},
		{"abc123/notes", Query{Selector: "abc123", Section: "notes", Index: -1}},
		{"abc123/file/cert.pem", Query{Selector: "abc123", Section: "file", Name: "cert.pem", Index: -1}},
		{"abc123/field/phone[1]", Query{Selector: "abc123", Section: "field", Name: "phone", Index: 1}},
		{"abc123/field/phone[1][number]", Query{Selector: "abc123", Section: "field", Name: "phone", Index: 1, ValueKey: "number"}},
		{"abc123/field/name[first]", Query{Selector: "abc123", Section: "field", Name: "name", Index: -1, ValueKey: "first"}},
		// escapes in selector and name
		{`My \[Prod\] Server/field/login`, Query{Selector: "My [Prod] Server", Section: "field", Name: "login", Index: -1}},
		{`a\/b/field/x\/y`, Query{Selector: "a/b", Section: "field", Name: "x/y", Index: -1}},
		{`t\\itle/notes`, Query{Selector: `t\itle`, Section: "notes", Index: -1}},
	}
	for _, c := range cases {
		q, err := Parse(c.path)
		require.NoError(t, err, "Parse(%q)", c.path)
		assert.Equal(t, c.want, *q, "Parse(%q)", c.path)
	}
}

func TestParseInvalid(t *testing.T) {
	cases := []string{
		"",
		"/field/login",
		"uid",
		"uid/",
		"uid/password/login", // unknown section
		"uid/field",          // missing field name
		"uid/field/",
		"uid/field/login/extra",
		"uid/notes/name", // notes takes no name
		"uid/notes[0]",
		"uid/file/cert[0]",
		"uid/field/phone[",
		"uid/field/phone[]",
		"uid/field/phone[1][number][extra]",
		"uid/field/phone[a][b]", // value key given twice
		`uid/field/login\`,      // dangling escape
		`uid/field/lo\gin`,      // unknown escape
		"uid/field/phone[1]x",
	}
	for _, path := range cases {
		_, err := Parse(path)
		assert.ErrorIs(t, err, ErrInvalidNotation, "Parse(%q)", path)
	}
}

func TestParseErrorNamesOffset(t *testing.T) {
	_, err := Parse("uid/field/login/extra")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offset 15")
}

func testRecords() []*vault.Record {
	return []*vault.Record{
		{
			UID: "uid-1",
			Data: vault.RecordData{
				Title: "Prod DB",
				Type:  "login",
				Fields: []vault.Field{
					{Type: "login", Value: []any{"alice"}},
					{Type: "phone", Value: []any{
						map[string]any{"region": "US", "number": "1"},
						map[string]any{"region": "EU", "number": "2"},
					}},
				},
				Custom: []vault.Field{
					{Type: "text", Label: "API Key", Value: []any{"k-123"}},
				},
				Notes: "rotate quarterly",
			},
			Files: []*vault.File{
				{UID: "f1", Name: "cert.pem", Title: "cert.pem", URL: "https://files.example/f1"},
			},
		},
		{UID: "uid-2", Data: vault.RecordData{Title: "Dup"}},
		{UID: "uid-3", Data: vault.RecordData{Title: "Dup"}},
	}
}

func TestResolve(t *testing.T) {
	records := testRecords()
	cases := []struct {
		path string
		want []string
	}{
		{"uid-1/field/login", []string{"alice"}},
		{"Prod DB/field/login", []string{"alice"}},
		{"uid-1/field/phone[1][number]", []string{"2"}},
		{"uid-1/field/phone[0]", []string{`{"number":"1","region":"US"}`}},
		{"uid-1/field/phone[number]", []string{"1", "2"}}, // omitted index walks every element
		{"uid-1/custom_field/API Key", []string{"k-123"}},
		{"uid-1/notes", []string{"rotate quarterly"}},
		{"uid-1/file/cert.pem", []string{"https://files.example/f1"}},
		// misses resolve to nothing, not errors
		{"uid-1/field/absent", nil},
		{"uid-1/field/phone[9]", nil},
		{"uid-1/field/phone[1][absent]", nil},
		{"uid-1/field/login[key]", nil}, // value key on a plain string
		{"no-such-record/field/login", nil},
		{"uid-1/file/absent", nil},
	}
	for _, c := range cases {
		got, err := Resolve(records, c.path)
		require.NoError(t, err, "Resolve(%q)", c.path)
		assert.Equal(t, c.want, got, "Resolve(%q)", c.path)
	}
}

func TestResolveAmbiguousTitle(t *testing.T) {
	_, err := Resolve(testRecords(), "Dup/notes")
	assert.ErrorIs(t, err, ErrAmbiguousTitle)
}

func TestUIDWinsOverTitle(t *testing.T) {
	records := []*vault.Record{
		{UID: "uid-a", Data: vault.RecordData{Title: "uid-b", Notes: "by title"}},
		{UID: "uid-b", Data: vault.RecordData{Notes: "by uid"}},
	}
	got, err := Resolve(records, "uid-b/notes")
	require.NoError(t, err)
	assert.Equal(t, []string{"by uid"}, got)
}
