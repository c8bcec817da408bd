package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestUnmarshal_PreservesOrder(t *testing.T) {
	payload := `{"emails":[
		{"1700000000000000":{"zeta.pdf":"https://s3/z","email.md":"https://s3/m","alpha.png":"https://s3/a"}},
		{"1700000100000000":{"b.md":"https://s3/b"},"1700000200000000":{}}
	]}`

	var m Manifest
	require.NoError(t, json.Unmarshal([]byte(payload), &m))

	require.Len(t, m.Emails, 2)
	assert.Equal(t, 3, m.EmailCount())

	first := m.Emails[0][0]
	assert.Equal(t, "1700000000000000", first.ID)
	assert.Equal(t, []FileRef{
		{Name: "zeta.pdf", URL: "https://s3/z"},
		{Name: "email.md", URL: "https://s3/m"},
		{Name: "alpha.png", URL: "https://s3/a"},
	}, first.Files)

	note, ok := first.NoteFile()
	require.True(t, ok)
	assert.Equal(t, "email.md", note.Name)

	second := m.Emails[1]
	require.Len(t, second, 2)
	assert.Equal(t, "1700000100000000", second[0].ID)
	assert.Equal(t, "1700000200000000", second[1].ID)
	assert.Empty(t, second[1].Files)

	_, ok = second[1].NoteFile()
	assert.False(t, ok)
}

func TestManifestUnmarshal_EmptyAndMissing(t *testing.T) {
	for _, payload := range []string{`{}`, `{"emails":[]}`, `{"emails":null}`} {
		var m Manifest
		require.NoError(t, json.Unmarshal([]byte(payload), &m), payload)
		assert.Zero(t, m.EmailCount(), payload)
	}
}

func TestManifestUnmarshal_Invalid(t *testing.T) {
	for _, payload := range []string{
		`{"emails":[["not","an","object"]]}`,
		`{"emails":[{"1":{"a.md":42}}]}`,
		`{"emails":"nope"}`,
	} {
		var m Manifest
		assert.Error(t, json.Unmarshal([]byte(payload), &m), payload)
	}
}

func TestManifestMarshal_RoundTripKeepsOrder(t *testing.T) {
	m := Manifest{Emails: []EmailGroup{{
		{ID: "2", Files: []FileRef{{Name: "b.md", URL: "u1"}, {Name: "a.txt", URL: "u2"}}},
		{ID: "1", Files: nil},
	}}}

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"emails":[{"2":{"b.md":"u1","a.txt":"u2"},"1":{}}]}`, string(data))
	assert.Equal(t, `{"emails":[{"2":{"b.md":"u1","a.txt":"u2"},"1":{}}]}`, string(data))
}

func TestFileRefIsNote(t *testing.T) {
	assert.True(t, FileRef{Name: "mail.md"}.IsNote())
	assert.False(t, FileRef{Name: "mail.md.pdf"}.IsNote())
	assert.False(t, FileRef{Name: "README"}.IsNote())
}
