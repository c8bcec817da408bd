// Package naming derives vault-safe folder and file names from email
// metadata and validates the addresses used to register integrations.
package naming

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ServiceDomain is the mail domain that receives forwarded email.
const ServiceDomain = "taskrobin.io"

// DefaultRootDirectory is the vault folder used when none is configured.
const DefaultRootDirectory = "Emails"

// noSubject replaces empty or whitespace-only subjects in folder names.
const noSubject = "No Subject"

var (
	folderReplacer = strings.NewReplacer(
		"*", "_", `"`, "_", `\`, "_", "/", "_",
		"<", "_", ">", "_", ":", "_", "|", "_", "?", "_",
	)

	// fileReplacer intentionally leaves backslashes alone; existing vaults
	// already contain file names produced by this exact rule.
	fileReplacer = strings.NewReplacer(
		"*", "_", `"`, "_", "/", "_",
		"<", "_", ">", "_", ":", "_", "|", "_", "?", "_",
	)

	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	aliasPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// FormatEmailFolderName builds "<YYYY-MM-DD> <subject>" for an email.
//
// The email id is a microsecond-scale timestamp; integer division by one
// million yields Unix seconds. Characters that are invalid on common file
// systems become underscores and trailing dots or spaces are removed.
// A non-numeric id is a defect in the remote data and decodes as zero.
func FormatEmailFolderName(emailID, subject string) string {
	micros, _ := strconv.ParseInt(emailID, 10, 64)
	seconds := micros / 1_000_000
	date := time.Unix(seconds, 0).UTC().Format("2006-01-02")

	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = noSubject
	}

	name := folderReplacer.Replace(date + " " + subject)
	return strings.TrimRight(name, ". ")
}

// SanitizeFileName replaces characters that cannot appear in a vault file
// name with underscores.
func SanitizeFileName(name string) string {
	return fileReplacer.Replace(name)
}

// IsValidEmail reports whether email looks like local@domain.tld.
func IsValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// IsTaskRobinEmail reports whether email belongs to the forwarding service
// itself. Such addresses cannot be used as an origin mailbox.
func IsTaskRobinEmail(email string) bool {
	return strings.HasSuffix(strings.ToLower(email), "@"+ServiceDomain)
}

// IsValidAlias reports whether alias may be used as the local part of a
// forwarding address.
func IsValidAlias(alias string) bool {
	return aliasPattern.MatchString(alias)
}

// ForwardingAddress returns the full service address for alias.
func ForwardingAddress(alias string) string {
	return alias + "@" + ServiceDomain
}

// NormalizeRootDirectory strips surrounding slashes and whitespace from a
// vault folder and falls back to DefaultRootDirectory.
func NormalizeRootDirectory(dir string) string {
	dir = strings.Trim(strings.TrimSpace(dir), "/")
	if dir == "" {
		return DefaultRootDirectory
	}
	return dir
}
