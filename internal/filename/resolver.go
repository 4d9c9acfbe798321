package filename

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var ErrUnresolvable = errors.New("could not deduce filename")

var dispositionRegex = regexp.MustCompile(`(?i)filename\*?\s*=\s*(?:"([^"]*)"|'([^']*)'|([^;\n]*))`)

// mime.ExtensionsByType depends on the host's mime tables and sorts
// alphabetically (.jfif before .jpg), so common types are pinned here.
var preferredExtensions = map[string]string{
	"application/gzip":             ".gz",
	"application/json":             ".json",
	"application/octet-stream":     ".bin",
	"application/pdf":              ".pdf",
	"application/x-tar":            ".tar",
	"application/x-7z-compressed":  ".7z",
	"application/x-bzip2":          ".bz2",
	"application/x-xz":             ".xz",
	"application/xml":              ".xml",
	"application/zip":              ".zip",
	"audio/mpeg":                   ".mp3",
	"audio/ogg":                    ".ogg",
	"image/gif":                    ".gif",
	"image/jpeg":                   ".jpg",
	"image/png":                    ".png",
	"image/svg+xml":                ".svg",
	"image/webp":                   ".webp",
	"text/csv":                     ".csv",
	"text/html":                    ".html",
	"text/plain":                   ".txt",
	"video/mp4":                    ".mp4",
	"video/webm":                   ".webm",
	"video/x-matroska":             ".mkv",
	"application/vnd.ms-excel":     ".xls",
	"application/msword":           ".doc",
	"application/x-iso9660-image":  ".iso",
	"application/vnd.rar":          ".rar",
	"application/x-rar-compressed": ".rar",
}

// Resolve picks a filename for rawURL using, in order: the Content-Disposition
// filename, the URL basename when it has an extension, the URL stem plus an
// extension derived from Content-Type, and finally a slug of the whole URL.
func Resolve(rawURL string, header http.Header) (string, error) {
	if name := FromContentDisposition(header.Get("Content-Disposition")); usable(name) {
		return name, nil
	}
	base := urlBase(rawURL)
	if path.Ext(base) != "" {
		if name := Slugify(base); usable(name) {
			return name, nil
		}
	}
	if name := FromContentType(header.Get("Content-Type"), base); usable(name) {
		return name, nil
	}
	if name := Slugify(rawURL); usable(name) {
		return name, nil
	}
	return "", fmt.Errorf("%w for %q", ErrUnresolvable, rawURL)
}

// usable rejects empty names and names made only of dots, which would point
// at the destination directory or its parent.
func usable(name string) bool {
	return strings.Trim(name, ".") != ""
}

func FromContentDisposition(value string) string {
	if value == "" || !strings.Contains(strings.ToLower(value), "filename") {
		return ""
	}
	if _, params, err := mime.ParseMediaType(value); err == nil {
		// mime decodes RFC 2231 filename* into "filename"
		if fn := params["filename"]; fn != "" {
			return Slugify(fn)
		}
	}
	matches := dispositionRegex.FindStringSubmatch(value)
	if matches == nil {
		return ""
	}
	for _, m := range matches[1:] {
		if m = strings.TrimSpace(m); m != "" {
			if rest, ok := strings.CutPrefix(m, "UTF-8''"); ok {
				if unescaped, err := url.PathUnescape(rest); err == nil {
					m = unescaped
				}
			}
			return Slugify(m)
		}
	}
	return ""
}

// FromContentType joins the slug of the URL basename's stem with the
// extension registered for contentType. Either half missing yields "".
func FromContentType(contentType, base string) string {
	ext := ExtensionForType(contentType)
	if ext == "" {
		return ""
	}
	stem := Slugify(strings.TrimSuffix(base, path.Ext(base)))
	if stem == "" {
		return ""
	}
	return stem + ext
}

func ExtensionForType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	if ext, ok := preferredExtensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func urlBase(rawURL string) string {
	p := rawURL
	if parsed, err := url.Parse(rawURL); err == nil {
		p = parsed.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" || strings.HasSuffix(p, "/") {
		return ""
	}
	return path.Base(p)
}
