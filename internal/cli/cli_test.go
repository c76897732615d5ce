package cli

import (
	"strings"
	"testing"
)

func TestNormalizeFilenamePassthrough(t *testing.T) {
	for _, name := range []string{"simple.txt", "a-b_c.d", "x#y$z!", "pipe|tilde~"} {
		normalized, encoded := NormalizeFilename(name)
		if normalized != name {
			t.Errorf("NormalizeFilename(%q) normalized = %q", name, normalized)
		}
		if encoded != "" {
			t.Errorf("NormalizeFilename(%q) encoded = %q, want empty", name, encoded)
		}
	}
}

func TestNormalizeFilenameReplacesDisallowedBytes(t *testing.T) {
	tests := []struct {
		in, normalized, encoded string
	}{
		{"a b.txt", "a_b.txt", "a%20b.txt"},
		{"日本語.txt", "___.txt", "%E6%97%A5%E6%9C%AC%E8%AA%9E.txt"},
		{`quo"te.txt`, "quo_te.txt", "quo%22te.txt"},
	}
	for _, tt := range tests {
		normalized, encoded := NormalizeFilename(tt.in)
		if normalized != tt.normalized {
			t.Errorf("NormalizeFilename(%q) normalized = %q, want %q", tt.in, normalized, tt.normalized)
		}
		if encoded != tt.encoded {
			t.Errorf("NormalizeFilename(%q) encoded = %q, want %q", tt.in, encoded, tt.encoded)
		}
	}
}

func TestReadImportRecords(t *testing.T) {
	tsv := strings.Join([]string{
		"photo 1.png\timage/png\thttps://files.example.com/media/photo1.png",
		"doc.pdf\tapplication/pdf\thttps://files.example.com/media/doc.pdf",
		"short-row",
		"name.bin\tapplication/octet-stream\t://not a url",
	}, "\n")

	records, err := readImportRecords(strings.NewReader(tsv))
	if err != nil {
		t.Fatalf("readImportRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}

	first := records[0]
	if first.Path != "/media/photo1.png" {
		t.Errorf("Path = %q", first.Path)
	}
	if first.Filename != "photo_1.png" {
		t.Errorf("Filename = %q", first.Filename)
	}
	if first.EncodedFilename != "photo%201.png" {
		t.Errorf("EncodedFilename = %q", first.EncodedFilename)
	}
	if first.MimeType != "image/png" {
		t.Errorf("MimeType = %q", first.MimeType)
	}

	second := records[1]
	if second.Path != "/media/doc.pdf" || second.Filename != "doc.pdf" || second.EncodedFilename != "" {
		t.Errorf("second record = %+v", second)
	}
}

func TestGuessMimeTypeByExtension(t *testing.T) {
	if got := guessMimeType("photo.png"); got != "image/png" {
		t.Errorf("guessMimeType(photo.png) = %q, want image/png", got)
	}
	if got := guessMimeType("no-such-file.unknownext"); got != "application/octet-stream" {
		t.Errorf("guessMimeType fallback = %q, want application/octet-stream", got)
	}
}
