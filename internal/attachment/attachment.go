// Package attachment joins uploaded files to recipient rows by normalized
// name.
package attachment

import (
	"encoding/base64"
	"fmt"
	"mime"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.io/infrasutra/batchmail/internal/recipient"
)

const defaultContentType = "application/octet-stream"

// Entry is one uploaded file. Content is carried base64-encoded as it
// arrives from the client.
type Entry struct {
	Filename      string `json:"filename"`
	ContentBase64 string `json:"contentBase64"`
	ContentType   string `json:"contentType,omitempty"`
	SizeBytes     *int64 `json:"sizeBytes,omitempty"`
}

// Index maps a normalized name key to its files in upload order.
type Index map[string][]Entry

// NormalizeKey decomposes s, strips combining marks, trims and lower-cases.
func NormalizeKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return strings.ToLower(strings.TrimSpace(stripped))
}

// BaseName strips the last extension, keeping dotfiles intact.
func BaseName(filename string) string {
	name := filepath.Base(filename)
	if idx := strings.LastIndex(name, "."); idx > 0 {
		return name[:idx]
	}
	return name
}

// Resolve returns the files attached to row, or nil when the row has no
// name or nothing matches.
func Resolve(row recipient.Row, mapping recipient.Mapping, index Index) []Entry {
	if len(index) == 0 {
		return nil
	}
	name := row[mapping.Name]
	if strings.TrimSpace(name) == "" {
		return nil
	}
	return index[NormalizeKey(name)]
}

// Add stores data under the normalized base name of filename.
func (idx Index) Add(filename string, data []byte, contentType string) string {
	key := NormalizeKey(BaseName(filename))
	size := int64(len(data))
	idx[key] = append(idx[key], Entry{
		Filename:      filepath.Base(filename),
		ContentBase64: base64.StdEncoding.EncodeToString(data),
		ContentType:   contentType,
		SizeBytes:     &size,
	})
	return key
}

// Count returns the number of files in the index.
func (idx Index) Count() int {
	total := 0
	for _, entries := range idx {
		total += len(entries)
	}
	return total
}

// Match counts the files whose key matches one of names and returns the
// sorted filenames of the rest.
func (idx Index) Match(names []string) (int, []string) {
	wanted := make(map[string]struct{}, len(names))
	for _, name := range names {
		wanted[NormalizeKey(name)] = struct{}{}
	}
	matched := 0
	unmatched := []string{}
	for key, entries := range idx {
		if _, ok := wanted[key]; ok {
			matched += len(entries)
			continue
		}
		for _, entry := range entries {
			unmatched = append(unmatched, entry.Filename)
		}
	}
	sort.Strings(unmatched)
	return matched, unmatched
}

// Size returns the declared size, or the decoded length of the content
// when no size was declared.
func (e Entry) Size() int64 {
	if e.SizeBytes != nil {
		return *e.SizeBytes
	}
	encoded := strings.TrimRight(strings.TrimSpace(e.ContentBase64), "=")
	return int64(base64.RawStdEncoding.DecodedLen(len(encoded)))
}

// IsPDF reports whether the entry is a PDF by content type or extension.
func (e Entry) IsPDF() bool {
	return strings.Contains(strings.ToLower(e.ContentType), "pdf") ||
		strings.HasSuffix(strings.ToLower(e.Filename), ".pdf")
}

// MediaType returns the declared content type, else one derived from the
// file extension.
func (e Entry) MediaType() string {
	if e.ContentType != "" {
		return e.ContentType
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(e.Filename))); byExt != "" {
		return byExt
	}
	return defaultContentType
}

// Decode returns the raw file bytes.
func (e Entry) Decode() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(e.ContentBase64))
	if err != nil {
		return nil, fmt.Errorf("decode attachment %q: %w", e.Filename, err)
	}
	return data, nil
}
