// Package cli implements the migrate and import maintenance commands for
// bringing legacy object data into the store.
package cli

import (
	"regexp"
	"strings"

	"github.com/manifoldco/promptui"
)

// filenameNormalizeRegex matches every byte outside the RFC 8187 attr-char
// set. Filenames containing such bytes cannot be carried verbatim in a
// Content-Disposition filename parameter.
var filenameNormalizeRegex = regexp.MustCompile("[^A-Za-z0-9!#$&+\\-.^_`|~]")

// NormalizeFilename replaces every non-attr-char byte with '_'. When
// normalization changed the name, the percent-encoded original is returned
// as well so clients can recover it from filename*.
func NormalizeFilename(name string) (normalized, encoded string) {
	if !filenameNormalizeRegex.MatchString(name) {
		return name, ""
	}
	return filenameNormalizeRegex.ReplaceAllString(name, "_"), percentEncode(name)
}

// percentEncode percent-encodes every byte outside the RFC 3986 unreserved
// set, using uppercase hex digits.
func percentEncode(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '_' || c == '.' || c == '~' {
			sb.WriteByte(c)
		} else {
			sb.WriteByte('%')
			sb.WriteByte(hexDigits[c>>4])
			sb.WriteByte(hexDigits[c&0x0f])
		}
	}
	return sb.String()
}

// confirm asks the operator a yes/no question on the terminal.
func confirm(label string) bool {
	prompt := promptui.Prompt{Label: label, IsConfirm: true}
	_, err := prompt.Run()
	return err == nil
}
