// Package auth implements AWS Signature Version 4 request authentication
// for ofuton's write routes, verified against the single configured account
// credential.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"sort"
	"strings"
)

const (
	// algorithm is the signing algorithm identifier.
	algorithm = "AWS4-HMAC-SHA256"

	// unsignedPayload is the content hash used when the client did not
	// sign the payload.
	unsignedPayload = "UNSIGNED-PAYLOAD"
)

// Verifier checks SigV4 signatures against the configured access key pair.
type Verifier struct {
	// AccessKey is the expected credential access key ID.
	AccessKey string
	// SecretKey is the shared secret the signing key is derived from.
	SecretKey string
}

// NewVerifier creates a Verifier for the given credential.
func NewVerifier(accessKey, secretKey string) *Verifier {
	return &Verifier{AccessKey: accessKey, SecretKey: secretKey}
}

// Verify validates the SigV4 signature on the request. All negative
// branches log at debug level; the caller is responsible for the HTTP
// rejection.
func (v *Verifier) Verify(r *http.Request) bool {
	authorization := r.Header.Get("Authorization")
	if authorization == "" {
		slog.Debug("SignatureVerification failed: Authorization header is missing or empty")
		return false
	}

	components := parseComponents(authorization)
	signature := components["Signature"]
	credentials := strings.Split(components["Credential"], "/")

	// Credential scope is access_key/date/region/service/aws4_request.
	if signature == "" || len(credentials) != 5 {
		slog.Debug("SignatureVerification failed: invalid signature or credential scope")
		return false
	}

	if credentials[0] != v.AccessKey {
		slog.Debug("SignatureVerification failed: access key mismatch")
		return false
	}

	signedHeaders := strings.Split(components["SignedHeaders"], ";")
	stringToSign := buildStringToSign(r, credentials, signedHeaders)

	// Signing key derivation: HMAC chain over the credential scope parts.
	dateKey := hmacSHA256([]byte("AWS4"+v.SecretKey), credentials[1])
	regionKey := hmacSHA256(dateKey, credentials[2])
	serviceKey := hmacSHA256(regionKey, credentials[3])
	signingKey := hmacSHA256(serviceKey, credentials[4])

	expected := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		slog.Debug("SignatureVerification failed: signature mismatch", "expected", expected, "got", signature)
		return false
	}
	return true
}

// parseComponents splits an Authorization header of the form
// "AWS4-HMAC-SHA256 Credential=..., SignedHeaders=..., Signature=..." into
// its key/value components. The algorithm prefix itself is not validated
// beyond requiring a space separator.
func parseComponents(authorization string) map[string]string {
	_, rest, found := strings.Cut(authorization, " ")
	if !found {
		return map[string]string{}
	}

	components := make(map[string]string)
	for _, part := range strings.Split(rest, ",") {
		if key, value, ok := strings.Cut(strings.TrimSpace(part), "="); ok {
			components[key] = value
		}
	}
	return components
}

// canonicalQueryString builds the canonical query from the raw query: every
// pair except X-Amz-Signature, key and value percent-encoded, sorted by the
// encoded form.
func canonicalQueryString(rawQuery string) string {
	var pairs []string
	for _, pair := range strings.Split(rawQuery, "&") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "X-Amz-Signature" {
			continue
		}
		pairs = append(pairs, uriEncode(key)+"="+uriEncode(value))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}

// buildStringToSign assembles the SigV4 string-to-sign from the canonical
// request, the X-Amz-Date header, and the credential scope.
func buildStringToSign(r *http.Request, credentials, signedHeaders []string) string {
	var canonicalHeaders strings.Builder
	for _, name := range signedHeaders {
		// Header names are matched case-insensitively. Go's net/http
		// strips the Host header into r.Host.
		value := r.Header.Get(name)
		if strings.EqualFold(name, "host") && value == "" {
			value = r.Host
		}
		canonicalHeaders.WriteString(name)
		canonicalHeaders.WriteByte(':')
		canonicalHeaders.WriteString(value)
		canonicalHeaders.WriteByte('\n')
	}

	contentHash := r.Header.Get("X-Amz-Content-Sha256")
	if contentHash == "" {
		contentHash = unsignedPayload
	}

	canonicalRequest := strings.Join([]string{
		r.Method,
		r.URL.EscapedPath(),
		canonicalQueryString(r.URL.RawQuery),
		canonicalHeaders.String(),
		strings.Join(signedHeaders, ";"),
		contentHash,
	}, "\n")

	hash := sha256.Sum256([]byte(canonicalRequest))
	credentialScope := strings.Join(credentials[1:], "/")

	return strings.Join([]string{
		algorithm,
		r.Header.Get("X-Amz-Date"),
		credentialScope,
		hex.EncodeToString(hash[:]),
	}, "\n")
}

// uriEncode percent-encodes a string per S3 URI encoding rules: unreserved
// characters (A-Z, a-z, 0-9, '-', '_', '.', '~') pass through, everything
// else becomes uppercase %XX.
func uriEncode(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			sb.WriteByte(c)
		} else {
			sb.WriteByte('%')
			sb.WriteByte(hexDigit(c >> 4))
			sb.WriteByte(hexDigit(c & 0x0f))
		}
	}
	return sb.String()
}

func isUnreserved(c byte) bool {
	return (c >= 'A' && c <= 'Z') ||
		(c >= 'a' && c <= 'z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '.' || c == '~'
}

func hexDigit(b byte) byte {
	if b < 10 {
		return '0' + b
	}
	return 'A' + b - 10
}

// hmacSHA256 computes HMAC-SHA256 of data using the given key.
func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

// Middleware rejects requests whose SigV4 signature does not verify with
// 403 and a plain-text body. Applied only to write routes; reads are
// unauthenticated because the service sits behind a trusted gateway.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !v.Verify(r) {
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte("Forbidden: Invalid signature"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
