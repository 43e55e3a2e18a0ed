// Package notation parses and evaluates the compact path syntax that
// addresses individual field values inside decrypted records:
//
//	selector "/" section ["/" name] ["[" index "]"] ["[" valueKey "]"]
//
// selector is a record uid or title, section is one of field,
// custom_field, file or notes. The syntax is a public surface embedded in
// user scripts and must stay byte-for-byte stable.
package notation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/Keeper-Security/secrets-manager-sub007/internal/vault"
)

var (
	// ErrInvalidNotation is returned for malformed syntax. The wrapping
	// message names the byte offset of the offending character.
	ErrInvalidNotation = errors.New("invalid notation")

	// ErrAmbiguousTitle is returned when a title selector matches more
	// than one record; resolution never guesses.
	ErrAmbiguousTitle = errors.New("record title is ambiguous")

	// ErrMissingField is the strict-mode error for a path that resolved
	// to no value. Soft callers receive an empty result instead.
	ErrMissingField = errors.New("no value at notation path")
)

// Section names accepted in a notation path.
const (
	SectionField       = "field"
	SectionCustomField = "custom_field"
	SectionFile        = "file"
	SectionNotes       = "notes"
)

// Query is the immutable parsed form of a notation path. It is derived
// purely from the input string and never persisted.
type Query struct {
	// Selector is the record uid or title.
	Selector string
	// Section is one of the Section constants.
	Section string
	// Name selects a field, custom field or file; empty for notes.
	Name string
	// Index addresses one element of a composite value; -1 when omitted.
	Index int
	// ValueKey addresses one key of an object element; empty when omitted.
	ValueKey string
}

// syntaxErr builds an ErrInvalidNotation naming the byte offset.
func syntaxErr(offset int, msg string) error {
	return fmt.Errorf("offset %d: %s: %w", offset, msg, ErrInvalidNotation)
}

// scanTo reads path from pos until an unescaped stop byte, handling the
// \/, \[, \] and \\ escapes. It returns the unescaped text and the
// position of the stop byte (or len(path)).
func scanTo(path string, pos int, stops string) (string, int, error) {
	var out []byte
	i := pos
	for i < len(path) {
		c := path[i]
		if c == '\\' {
			if i+1 >= len(path) {
				return "", 0, syntaxErr(i, "dangling escape")
			}
			next := path[i+1]
			if next != '/' && next != '[' && next != ']' && next != '\\' {
				return "", 0, syntaxErr(i, "unknown escape sequence")
			}
			out = append(out, next)
			i += 2
			continue
		}
		stop := false
		for j := 0; j < len(stops); j++ {
			if c == stops[j] {
				stop = true
				break
			}
		}
		if stop {
			break
		}
		out = append(out, c)
		i++
	}
	return string(out), i, nil
}

// Parse scans a notation path in one bounded pass with no backtracking.
func Parse(path string) (*Query, error) {
	selector, i, err := scanTo(path, 0, "/")
	if err != nil {
		return nil, err
	}
	if selector == "" {
		return nil, syntaxErr(0, "empty record selector")
	}
	if i >= len(path) {
		return nil, syntaxErr(len(path), "missing section")
	}
	i++ // '/'

	sectionStart := i
	section, i, err := scanTo(path, i, "/[")
	if err != nil {
		return nil, err
	}
	switch section {
	case SectionField, SectionCustomField, SectionFile, SectionNotes:
	default:
		return nil, syntaxErr(sectionStart, fmt.Sprintf("unknown section %q", section))
	}

	q := &Query{Selector: selector, Section: section, Index: -1}

	if i < len(path) && path[i] == '/' {
		if section == SectionNotes {
			return nil, syntaxErr(i, "notes takes no field name")
		}
		i++
		nameStart := i
		q.Name, i, err = scanTo(path, i, "[/")
		if err != nil {
			return nil, err
		}
		if q.Name == "" {
			return nil, syntaxErr(nameStart, "empty field name")
		}
		if i < len(path) && path[i] == '/' {
			return nil, syntaxErr(i, "unexpected '/' after field name")
		}
	} else if section != SectionNotes {
		return nil, syntaxErr(i, "missing field name")
	}

	for bracket := 0; i < len(path) && path[i] == '['; bracket++ {
		if section == SectionNotes || section == SectionFile {
			return nil, syntaxErr(i, "section takes no index")
		}
		if bracket == 2 {
			return nil, syntaxErr(i, "too many selectors")
		}
		open := i
		i++
		var token string
		token, i, err = scanTo(path, i, "[]")
		if err != nil {
			return nil, err
		}
		if i >= len(path) || path[i] != ']' {
			return nil, syntaxErr(open, "unterminated '['")
		}
		i++
		if token == "" {
			return nil, syntaxErr(open, "empty selector")
		}
		if n, numErr := strconv.Atoi(token); numErr == nil && bracket == 0 {
			q.Index = n
		} else if q.ValueKey == "" {
			q.ValueKey = token
		} else {
			return nil, syntaxErr(open, "value key given twice")
		}
	}

	if i < len(path) {
		return nil, syntaxErr(i, fmt.Sprintf("unexpected %q", path[i]))
	}
	return q, nil
}

// findRecord resolves the selector against the fetched records: uid match
// first, then unique title match.
func findRecord(records []*vault.Record, selector string) (*vault.Record, error) {
	for _, r := range records {
		if r.UID == selector {
			return r, nil
		}
	}
	var match *vault.Record
	for _, r := range records {
		if r.Data.Title == selector {
			if match != nil {
				return nil, fmt.Errorf("title %q: %w", selector, ErrAmbiguousTitle)
			}
			match = r
		}
	}
	return match, nil
}

// stringify renders one field value as a scalar: strings pass through,
// composite values render as compact JSON.
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// Execute evaluates a parsed query against the fetched records, returning
// zero, one or many scalar values. A missing record, field, index or value
// key yields an empty slice, never an error; only ambiguity errors here.
func Execute(records []*vault.Record, q *Query) ([]string, error) {
	rec, err := findRecord(records, q.Selector)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	switch q.Section {
	case SectionNotes:
		return []string{rec.Data.Notes}, nil

	case SectionFile:
		f := rec.FindFile(q.Name)
		if f == nil {
			return nil, nil
		}
		return []string{f.URL}, nil
	}

	field := rec.Data.FindField(q.Name, q.Section == SectionCustomField)
	if field == nil {
		return nil, nil
	}

	if q.Index >= 0 {
		if q.Index >= len(field.Value) {
			return nil, nil
		}
		return extract(field.Value[q.Index], q.ValueKey), nil
	}

	// No index: every element contributes, in document order. Documented
	// behavior, kept for compatibility with existing scripts.
	var out []string
	for _, v := range field.Value {
		out = append(out, extract(v, q.ValueKey)...)
	}
	return out, nil
}

// extract applies an optional value key to one element.
func extract(v any, valueKey string) []string {
	if valueKey == "" {
		return []string{stringify(v)}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	inner, ok := obj[valueKey]
	if !ok {
		return nil
	}
	return []string{stringify(inner)}
}

// Resolve parses and evaluates path in one call.
func Resolve(records []*vault.Record, path string) ([]string, error) {
	q, err := Parse(path)
	if err != nil {
		return nil, err
	}
	return Execute(records, q)
}
