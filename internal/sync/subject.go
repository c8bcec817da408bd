package sync

import (
	"mime"
	"regexp"
	"strings"

	"github.com/emersion/go-message/charset"
)

var subjectPattern = regexp.MustCompile(`(?m)^Subject: (.+)$`)

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// extractSubject returns the value of the first "Subject:" line of a
// markdown note, trimmed. Encoded words (=?utf-8?q?...?=) are decoded; a
// value that fails to decode is kept verbatim. No match yields "".
func extractSubject(note string) string {
	m := subjectPattern.FindStringSubmatch(note)
	if m == nil {
		return ""
	}
	subject := strings.TrimSpace(m[1])

	if strings.Contains(subject, "=?") {
		if decoded, err := wordDecoder.DecodeHeader(subject); err == nil {
			subject = strings.TrimSpace(decoded)
		}
	}
	return subject
}
