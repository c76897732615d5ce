package handlers

import "testing"

func TestParseContentDispositionPlainFilename(t *testing.T) {
	got := ParseContentDisposition(`attachment; filename="report.pdf"`)
	if got.Filename != "report.pdf" {
		t.Errorf("Filename = %q, want %q", got.Filename, "report.pdf")
	}
	if got.EncodedFilename != "" {
		t.Errorf("EncodedFilename = %q, want empty", got.EncodedFilename)
	}
}

func TestParseContentDispositionExtendedFilename(t *testing.T) {
	got := ParseContentDisposition(
		`attachment; filename="___.txt"; filename*=utf-8''%E6%97%A5%E6%9C%AC%E8%AA%9E.txt`)
	if got.Filename != "___.txt" {
		t.Errorf("Filename = %q", got.Filename)
	}
	if got.EncodedFilename != "%E6%97%A5%E6%9C%AC%E8%AA%9E.txt" {
		t.Errorf("EncodedFilename = %q", got.EncodedFilename)
	}
}

func TestParseContentDispositionCaseAndHyphenVariants(t *testing.T) {
	for _, header := range []string{
		`attachment; filename*=UTF-8''a%20b.txt`,
		`attachment; filename*=utf8''a%20b.txt`,
	} {
		got := ParseContentDisposition(header)
		if got.EncodedFilename != "a%20b.txt" {
			t.Errorf("ParseContentDisposition(%q).EncodedFilename = %q", header, got.EncodedFilename)
		}
	}
}

func TestParseContentDispositionReencodesDecodedValue(t *testing.T) {
	// A client sent the extended value already decoded; the stored form must
	// be percent-encoded.
	got := ParseContentDisposition(`attachment; filename*=utf-8''日本語.txt`)
	if got.EncodedFilename != "%E6%97%A5%E6%9C%AC%E8%AA%9E.txt" {
		t.Errorf("EncodedFilename = %q", got.EncodedFilename)
	}
}

func TestParseContentDispositionEmpty(t *testing.T) {
	got := ParseContentDisposition("")
	if got.Filename != "" || got.EncodedFilename != "" {
		t.Errorf("expected zero value, got %+v", got)
	}
}

func TestBuildContentDispositionFilename(t *testing.T) {
	tests := []struct {
		filename, encoded, want string
	}{
		{"", "", ""},
		{"", "%41.txt", ""},
		{"b.txt", "", `filename="b.txt"`},
		{"___.txt", "%E6%97%A5%E6%9C%AC%E8%AA%9E.txt",
			`filename="___.txt"; filename*=utf-8''%E6%97%A5%E6%9C%AC%E8%AA%9E.txt`},
	}
	for _, tt := range tests {
		if got := BuildContentDispositionFilename(tt.filename, tt.encoded); got != tt.want {
			t.Errorf("BuildContentDispositionFilename(%q, %q) = %q, want %q",
				tt.filename, tt.encoded, got, tt.want)
		}
	}
}

func TestContentDispositionRoundTrip(t *testing.T) {
	cases := []struct {
		filename, encoded string
	}{
		{"b.txt", ""},
		{"report final.pdf", "report%20final.pdf"},
		{"___.txt", "%E6%97%A5%E6%9C%AC%E8%AA%9E.txt"},
	}
	for _, c := range cases {
		header := BuildContentDispositionFilename(c.filename, c.encoded)
		parsed := ParseContentDisposition(header)
		if parsed.Filename != c.filename {
			t.Errorf("round trip Filename = %q, want %q", parsed.Filename, c.filename)
		}
		if parsed.EncodedFilename != c.encoded {
			t.Errorf("round trip EncodedFilename = %q, want %q", parsed.EncodedFilename, c.encoded)
		}
	}
}

func TestSplitBucketKey(t *testing.T) {
	tests := []struct {
		path, bucket, key string
	}{
		{"/a/b.txt", "", "a/b.txt"},
		{"/file.bin", "", "file.bin"},
		{"no-slash", "", "no-slash"},
	}
	for _, tt := range tests {
		bucket, key := splitBucketKey(tt.path)
		if bucket != tt.bucket || key != tt.key {
			t.Errorf("splitBucketKey(%q) = (%q, %q), want (%q, %q)",
				tt.path, bucket, key, tt.bucket, tt.key)
		}
	}
}
