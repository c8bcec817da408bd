package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// NoteExtension marks the markdown rendition among an email's files.
const NoteExtension = ".md"

// Manifest is the remote listing of emails and their downloadable files
// returned by one sync request. It is never persisted.
type Manifest struct {
	Emails []EmailGroup
}

// EmailGroup is one element of the manifest's emails array. Each group maps
// email ids to their files; the remote usually sends one email per group.
type EmailGroup []EmailEntry

// EmailEntry lists the files of a single email in manifest order.
type EmailEntry struct {
	// ID is a numeric string holding a microsecond-scale timestamp.
	ID    string
	Files []FileRef
}

// FileRef names one downloadable file and its presigned URL.
type FileRef struct {
	Name string
	URL  string
}

// IsNote reports whether the file is the markdown rendition of the email.
func (f FileRef) IsNote() bool {
	return strings.HasSuffix(f.Name, NoteExtension)
}

// NoteFile returns the first markdown file of the email, if any.
func (e EmailEntry) NoteFile() (FileRef, bool) {
	for _, f := range e.Files {
		if f.IsNote() {
			return f, true
		}
	}
	return FileRef{}, false
}

// EmailCount returns the number of emails across all groups.
func (m *Manifest) EmailCount() int {
	n := 0
	for _, g := range m.Emails {
		n += len(g)
	}
	return n
}

// UnmarshalJSON decodes {"emails":[{"<id>":{"<name>":"<url>"}}]} while
// keeping object keys in the order the service sent them.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Emails []json.RawMessage `json:"emails"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding manifest: %w", err)
	}

	m.Emails = make([]EmailGroup, 0, len(raw.Emails))
	for i, rawGroup := range raw.Emails {
		var group EmailGroup
		err := decodeOrderedObject(rawGroup, func(id string, value json.RawMessage) error {
			entry := EmailEntry{ID: id}
			err := decodeOrderedObject(value, func(name string, url json.RawMessage) error {
				var u string
				if err := json.Unmarshal(url, &u); err != nil {
					return fmt.Errorf("file %q: %w", name, err)
				}
				entry.Files = append(entry.Files, FileRef{Name: name, URL: u})
				return nil
			})
			if err != nil {
				return fmt.Errorf("email %s: %w", id, err)
			}
			group = append(group, entry)
			return nil
		})
		if err != nil {
			return fmt.Errorf("decoding manifest group %d: %w", i, err)
		}
		m.Emails = append(m.Emails, group)
	}

	return nil
}

// MarshalJSON writes the manifest back in the wire shape, preserving order.
func (m Manifest) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"emails":[`)
	for gi, group := range m.Emails {
		if gi > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for ei, entry := range group {
			if ei > 0 {
				buf.WriteByte(',')
			}
			writeJSONString(&buf, entry.ID)
			buf.WriteString(":{")
			for fi, f := range entry.Files {
				if fi > 0 {
					buf.WriteByte(',')
				}
				writeJSONString(&buf, f.Name)
				buf.WriteByte(':')
				writeJSONString(&buf, f.URL)
			}
			buf.WriteByte('}')
		}
		buf.WriteByte('}')
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// decodeOrderedObject walks a JSON object and calls fn for every member in
// document order. A null value is treated as an empty object.
func decodeOrderedObject(data json.RawMessage, fn func(key string, value json.RawMessage) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", keyTok)
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}

	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}
