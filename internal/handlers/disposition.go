package handlers

import (
	"net/url"
	"regexp"
	"strings"
)

// contentDispositionRegex captures the value of an RFC 5987 extended
// filename parameter. Only the "utf" token is matched case-insensitively.
var contentDispositionRegex = regexp.MustCompile(`filename\*=(?i:utf)-?8''([^;]*)`)

// ContentDisposition holds the display names extracted from an inbound
// Content-Disposition header. Empty strings mean "absent".
type ContentDisposition struct {
	Filename        string
	EncodedFilename string
}

// ParseContentDisposition extracts filename and filename* from a
// Content-Disposition header value. Clients occasionally send the extended
// form already decoded; in that case the value is re-encoded so the stored
// form is always percent-encoded.
func ParseContentDisposition(header string) ContentDisposition {
	var result ContentDisposition
	if header == "" {
		return result
	}

	if m := contentDispositionRegex.FindStringSubmatch(header); m != nil {
		raw := m[1]
		if decoded, err := url.PathUnescape(raw); err == nil {
			if decoded != raw {
				result.EncodedFilename = raw
			} else {
				result.EncodedFilename = percentEncode(decoded)
			}
		}
	}

	for _, part := range strings.Split(header, ";") {
		if !strings.HasPrefix(strings.TrimSpace(part), "filename=") {
			continue
		}
		if fields := strings.Split(part, "="); len(fields) > 1 {
			result.Filename = strings.Trim(fields[1], `"`)
		}
		break
	}

	return result
}

// BuildContentDispositionFilename renders the filename parameters for an
// outbound Content-Disposition header. An empty filename yields an empty
// string.
func BuildContentDispositionFilename(filename, encodedFilename string) string {
	if filename == "" {
		return ""
	}
	if encodedFilename != "" {
		return `filename="` + filename + `"; filename*=utf-8''` + encodedFilename
	}
	return `filename="` + filename + `"`
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
