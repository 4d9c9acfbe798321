package filename

import (
	"errors"
	"net/http"
	"testing"
)

func header(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func TestResolvePriority(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		header   http.Header
		expected string
	}{
		{
			name:     "disposition wins over url",
			url:      "https://x/y?z=1",
			header:   header("Content-Disposition", `attachment; filename="report.pdf"`),
			expected: "report.pdf",
		},
		{
			name:     "disposition wins over url extension",
			url:      "https://x/other.zip",
			header:   header("Content-Disposition", `attachment; filename="report.pdf"`, "Content-Type", "application/zip"),
			expected: "report.pdf",
		},
		{
			name:     "url basename with extension",
			url:      "https://x/report.pdf?z=1",
			header:   header(),
			expected: "report.pdf",
		},
		{
			name:     "url basename beats content type",
			url:      "https://x/files/report.pdf#frag",
			header:   header("Content-Type", "text/html"),
			expected: "report.pdf",
		},
		{
			name:     "content type with url stem",
			url:      "https://x/report",
			header:   header("Content-Type", "application/pdf"),
			expected: "report.pdf",
		},
		{
			name:     "content type parameters ignored",
			url:      "https://x/index",
			header:   header("Content-Type", "text/html; charset=utf-8"),
			expected: "index.html",
		},
		{
			name:     "dot only disposition falls through",
			url:      "https://x/report.pdf",
			header:   header("Content-Disposition", `attachment; filename=".."`),
			expected: "report.pdf",
		},
		{
			name:     "single dot disposition falls through",
			url:      "https://x/report",
			header:   header("Content-Disposition", "attachment; filename=.", "Content-Type", "application/pdf"),
			expected: "report.pdf",
		},
		{
			name:     "slug of whole url",
			url:      "https://x/y?z=1",
			header:   header(),
			expected: "httpsxyz1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.url, tt.header)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestResolveUnresolvable(t *testing.T) {
	_, err := Resolve("///", header())
	if !errors.Is(err, ErrUnresolvable) {
		t.Fatalf("expected ErrUnresolvable, got %v", err)
	}
}

func TestFromContentDisposition(t *testing.T) {
	tests := []struct {
		value    string
		expected string
	}{
		{"", ""},
		{"inline", ""},
		{`attachment; filename="My Report (Final).PDF"`, "my-report-final.pdf"},
		{"attachment; filename=plain.txt", "plain.txt"},
		{"attachment; filename*=UTF-8''na%C3%AFve%20file.txt", "naive-file.txt"},
		{`filename="broken.zip"; foo`, "broken.zip"},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			if got := FromContentDisposition(tt.value); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		value    string
		expected string
	}{
		{"report.pdf", "report.pdf"},
		{"Héllo Wörld.txt", "hello-world.txt"},
		{"  --a  b--  ", "a-b"},
		{"__init__.py", "init__.py"},
		{"日本語", ""},
		{"file@#$%name!.tar.gz", "filename.tar.gz"},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			if got := Slugify(tt.value); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestExtensionForType(t *testing.T) {
	tests := []struct {
		contentType string
		expected    string
	}{
		{"application/pdf", ".pdf"},
		{"image/jpeg", ".jpg"},
		{"TEXT/PLAIN; charset=us-ascii", ".txt"},
		{"", ""},
		{"application/x-definitely-unknown", ""},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			if got := ExtensionForType(tt.contentType); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}
