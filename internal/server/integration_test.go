package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/zeebo/blake3"

	"github.com/hideki0403/ofuton/internal/config"
	"github.com/hideki0403/ofuton/internal/metadata"
	"github.com/hideki0403/ofuton/internal/storage"
	"github.com/hideki0403/ofuton/internal/xmlutil"
)

const (
	testAccessKey = "test-access"
	testSecretKey = "test-secret"
)

// --- Test helpers ---

type testEnv struct {
	ts         *httptest.Server
	bucketPath string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	bucketPath := t.TempDir()

	meta, err := metadata.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { meta.Close() })

	blobs, err := storage.NewBlobStore(bucketPath)
	if err != nil {
		t.Fatalf("NewBlobStore: %v", err)
	}

	cfg := &config.Config{}
	cfg.Bucket.Path = bucketPath
	cfg.Bucket.MaxUploadSizeMB = 10
	cfg.Account.AccessKey = testAccessKey
	cfg.Account.SecretKey = testSecretKey

	srv := New(cfg, storage.New(meta, blobs, time.Hour))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, bucketPath: bucketPath}
}

func encodeComponent(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var sb strings.Builder
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

func hmacSum(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

// signRequest adds SigV4 headers for the configured test credential.
func signRequest(r *http.Request) {
	const amzDate = "20260102T030405Z"
	const scope = "20260102/us-east-1/s3/aws4_request"

	r.Header.Set("X-Amz-Date", amzDate)
	r.Header.Set("X-Amz-Content-Sha256", "UNSIGNED-PAYLOAD")

	signedHeaders := "host;x-amz-content-sha256;x-amz-date"
	canonicalHeaders := "host:" + r.URL.Host + "\n" +
		"x-amz-content-sha256:UNSIGNED-PAYLOAD\n" +
		"x-amz-date:" + amzDate + "\n"

	var queryPairs []string
	if r.URL.RawQuery != "" {
		for _, pair := range strings.Split(r.URL.RawQuery, "&") {
			key, value, _ := strings.Cut(pair, "=")
			if key == "X-Amz-Signature" {
				continue
			}
			queryPairs = append(queryPairs, encodeComponent(key)+"="+encodeComponent(value))
		}
	}
	sort.Strings(queryPairs)

	canonicalRequest := strings.Join([]string{
		r.Method,
		r.URL.EscapedPath(),
		strings.Join(queryPairs, "&"),
		canonicalHeaders,
		signedHeaders,
		"UNSIGNED-PAYLOAD",
	}, "\n")

	hash := sha256.Sum256([]byte(canonicalRequest))
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		hex.EncodeToString(hash[:]),
	}, "\n")

	key := hmacSum([]byte("AWS4"+testSecretKey), "20260102")
	key = hmacSum(key, "us-east-1")
	key = hmacSum(key, "s3")
	key = hmacSum(key, "aws4_request")
	signature := hex.EncodeToString(hmacSum(key, stringToSign))

	r.Header.Set("Authorization", fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		testAccessKey, scope, signedHeaders, signature,
	))
}

// doSigned sends a signed request and returns the response.
func (e *testEnv) doSigned(t *testing.T, method, pathAndQuery, body string, headers map[string]string) *http.Response {
	t.Helper()
	r, err := http.NewRequest(method, e.ts.URL+pathAndQuery, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	signRequest(r)

	resp, err := http.DefaultClient.Do(r)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string, headers map[string]string) *http.Response {
	t.Helper()
	r, err := http.NewRequest(http.MethodGet, e.ts.URL+path, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(r)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return string(body)
}

// --- Tests ---

func TestBannerAndRobots(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET / status = %d", resp.StatusCode)
	}
	want := "ofuton v" + Version + " - " + repositoryURL
	if got := readBody(t, resp); got != want {
		t.Errorf("banner = %q, want %q", got, want)
	}

	resp = env.get(t, "/robots.txt", nil)
	if got := readBody(t, resp); got != "User-agent: *\nDisallow: /" {
		t.Errorf("robots.txt = %q", got)
	}
}

func TestPutThenGet(t *testing.T) {
	env := newTestEnv(t)

	resp := env.doSigned(t, http.MethodPut, "/a/b.txt", "hello", map[string]string{
		"Content-Type":        "text/plain",
		"Content-Disposition": `attachment; filename="b.txt"`,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("PUT status = %d, want 201", resp.StatusCode)
	}

	resp = env.get(t, "/a/b.txt", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", resp.StatusCode)
	}
	if got := readBody(t, resp); got != "hello" {
		t.Errorf("body = %q, want %q", got, "hello")
	}

	sum := blake3.Sum256([]byte("/a/b.txt"))
	wantETag := `"` + hex.EncodeToString(sum[:]) + `"`
	if got := resp.Header.Get("ETag"); got != wantETag {
		t.Errorf("ETag = %q, want %q", got, wantETag)
	}
	if got := resp.Header.Get("Content-Disposition"); got != `inline; filename="b.txt"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "max-age=31536000, immutable" {
		t.Errorf("Cache-Control = %q", got)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/plain" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := resp.Header.Get("Accept-Ranges"); got != "bytes" {
		t.Errorf("Accept-Ranges = %q", got)
	}
}

func TestInvalidSignatureHasNoSideEffects(t *testing.T) {
	env := newTestEnv(t)

	r, err := http.NewRequest(http.MethodPut, env.ts.URL+"/a/b.txt", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	r.Header.Set("Authorization",
		"AWS4-HMAC-SHA256 Credential=test-access/20260102/us-east-1/s3/aws4_request, SignedHeaders=host, Signature=bad")
	resp, err := http.DefaultClient.Do(r)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "Forbidden: Invalid signature" {
		t.Errorf("body = %q", body)
	}

	// The rejected write left no trace.
	if resp := env.get(t, "/a/b.txt", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET after rejected PUT status = %d, want 404", resp.StatusCode)
	}
}

func TestMultipartLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.doSigned(t, http.MethodPost, "/big.bin", "", map[string]string{
		"Content-Type": "application/octet-stream",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("CreateMultipartUpload status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/xml" {
		t.Errorf("Content-Type = %q", got)
	}

	var initiate xmlutil.InitiateMultipartUploadResult
	if err := xml.Unmarshal([]byte(readBody(t, resp)), &initiate); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if initiate.UploadID == "" {
		t.Fatal("expected a non-empty UploadId")
	}
	if initiate.Bucket != "" || initiate.Key != "big.bin" {
		t.Errorf("Bucket/Key = %q/%q", initiate.Bucket, initiate.Key)
	}

	for n, content := range map[int]string{1: "AAA", 2: "BBB"} {
		resp := env.doSigned(t, http.MethodPut,
			fmt.Sprintf("/big.bin?uploadId=%s&partNumber=%d", initiate.UploadID, n), content, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("UploadPart %d status = %d", n, resp.StatusCode)
		}
		if resp.Header.Get("ETag") == "" {
			t.Errorf("UploadPart %d missing ETag", n)
		}
	}

	resp = env.doSigned(t, http.MethodPost, "/big.bin?uploadId="+initiate.UploadID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("CompleteMultipartUpload status = %d", resp.StatusCode)
	}
	var complete xmlutil.CompleteMultipartUploadResult
	if err := xml.Unmarshal([]byte(readBody(t, resp)), &complete); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if complete.Location != "/big.bin" {
		t.Errorf("Location = %q, want %q", complete.Location, "/big.bin")
	}

	resp = env.get(t, "/big.bin", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d", resp.StatusCode)
	}
	if got := readBody(t, resp); got != "AAABBB" {
		t.Errorf("body = %q, want %q", got, "AAABBB")
	}
}

func TestAbortMultipartUpload(t *testing.T) {
	env := newTestEnv(t)

	resp := env.doSigned(t, http.MethodPost, "/big.bin", "", nil)
	var initiate xmlutil.InitiateMultipartUploadResult
	if err := xml.Unmarshal([]byte(readBody(t, resp)), &initiate); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	resp = env.doSigned(t, http.MethodPut,
		"/big.bin?uploadId="+initiate.UploadID+"&partNumber=1", "AAA", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("UploadPart status = %d", resp.StatusCode)
	}

	resp = env.doSigned(t, http.MethodDelete, "/big.bin?uploadId="+initiate.UploadID, "", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("AbortMultipartUpload status = %d, want 204", resp.StatusCode)
	}

	// The part directory is gone and the session is dead.
	if _, err := os.Stat(filepath.Join(env.bucketPath, ".multipart", initiate.UploadID)); !os.IsNotExist(err) {
		t.Errorf("expected multipart dir removal, stat err = %v", err)
	}
	resp = env.doSigned(t, http.MethodPut,
		"/big.bin?uploadId="+initiate.UploadID+"&partNumber=2", "BBB", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("UploadPart after abort status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadPartWithoutPartNumber(t *testing.T) {
	env := newTestEnv(t)

	resp := env.doSigned(t, http.MethodPost, "/big.bin", "", nil)
	var initiate xmlutil.InitiateMultipartUploadResult
	if err := xml.Unmarshal([]byte(readBody(t, resp)), &initiate); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	resp = env.doSigned(t, http.MethodPut, "/big.bin?uploadId="+initiate.UploadID, "AAA", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRangeRequests(t *testing.T) {
	env := newTestEnv(t)

	resp := env.doSigned(t, http.MethodPut, "/data.bin", "0123456789", map[string]string{
		"Content-Type": "application/octet-stream",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("PUT status = %d", resp.StatusCode)
	}

	resp = env.get(t, "/data.bin", map[string]string{"Range": "bytes=0-"})
	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("Range bytes=0- status = %d, want 206", resp.StatusCode)
	}
	if got := readBody(t, resp); got != "0123456789" {
		t.Errorf("body = %q, want full content", got)
	}

	resp = env.get(t, "/data.bin", map[string]string{"Range": "bytes=2-4"})
	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("Range bytes=2-4 status = %d, want 206", resp.StatusCode)
	}
	if got := readBody(t, resp); got != "234" {
		t.Errorf("body = %q, want %q", got, "234")
	}
}

func TestHeadObject(t *testing.T) {
	env := newTestEnv(t)

	resp := env.doSigned(t, http.MethodPut, "/a/b.txt", "hello", map[string]string{
		"Content-Type": "text/plain",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("PUT status = %d", resp.StatusCode)
	}

	r, err := http.NewRequest(http.MethodHead, env.ts.URL+"/a/b.txt", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	headResp, err := http.DefaultClient.Do(r)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer headResp.Body.Close()

	if headResp.StatusCode != http.StatusOK {
		t.Fatalf("HEAD status = %d", headResp.StatusCode)
	}
	if got := headResp.Header.Get("Content-Length"); got != "5" {
		t.Errorf("Content-Length = %q, want 5", got)
	}
	body, _ := io.ReadAll(headResp.Body)
	if len(body) != 0 {
		t.Errorf("HEAD body = %q, want empty", body)
	}
}

func TestRFC5987RoundTrip(t *testing.T) {
	env := newTestEnv(t)

	resp := env.doSigned(t, http.MethodPut, "/media/doc.txt", "content", map[string]string{
		"Content-Disposition": `attachment; filename="日本語.txt"; filename*=utf-8''%E6%97%A5%E6%9C%AC%E8%AA%9E.txt`,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("PUT status = %d", resp.StatusCode)
	}

	resp = env.get(t, "/media/doc.txt", nil)
	disposition := resp.Header.Get("Content-Disposition")
	if !strings.Contains(disposition, `filename="日本語.txt"`) {
		t.Errorf("Content-Disposition missing plain filename: %q", disposition)
	}
	if !strings.Contains(disposition, "filename*=utf-8''%E6%97%A5%E6%9C%AC%E8%AA%9E.txt") {
		t.Errorf("Content-Disposition missing extended filename: %q", disposition)
	}
}

func TestDeleteObject(t *testing.T) {
	env := newTestEnv(t)

	resp := env.doSigned(t, http.MethodPut, "/a/b.txt", "hello", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("PUT status = %d", resp.StatusCode)
	}

	resp = env.doSigned(t, http.MethodDelete, "/a/b.txt", "", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", resp.StatusCode)
	}

	if resp := env.get(t, "/a/b.txt", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET after DELETE status = %d, want 404", resp.StatusCode)
	}
}

func TestGetMissingObject(t *testing.T) {
	env := newTestEnv(t)
	if resp := env.get(t, "/no/such/object", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
