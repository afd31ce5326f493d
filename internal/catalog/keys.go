package catalog

import (
	"strings"
	"time"

	"github.com/koustreak/docrelay/internal/errs"
)

// Category partitions documents in storage and in the index.
type Category string

const (
	CategoryInvoice Category = "invoice"
	CategoryTax     Category = "tax"
)

// Categories lists every known category.
func Categories() []Category {
	return []Category{CategoryInvoice, CategoryTax}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategoryInvoice || c == CategoryTax
}

// ParseCategory validates s.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", errs.Newf(errs.ErrKindInvalidInput, "unknown document type %q", s)
	}
	return c, nil
}

const (
	ownerDirPrefix = "client_"
	// keyTimeLayout is ISO-8601 UTC with milliseconds. keyTime swaps ':'
	// and '.' for '-' so the result is safe in every backend's key syntax.
	keyTimeLayout = "2006-01-02T15:04:05.000Z"
)

var keyTimeReplacer = strings.NewReplacer(":", "-", ".", "-")

func keyTime(at time.Time) string {
	return keyTimeReplacer.Replace(at.UTC().Format(keyTimeLayout))
}

// Sanitize makes name safe for a storage key: non-ASCII and control
// characters and path separators become '_'. The original name is kept
// separately as the display name.
func Sanitize(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r > 0x7E, r < 0x20, r == '/', r == '\\':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	if s := b.String(); s != "" && s != "." && s != ".." {
		return s
	}
	return "file"
}

// ValidateOwner rejects owner ids that cannot form a single key segment.
// The empty id is valid and means no owner.
func ValidateOwner(id string) error {
	for _, r := range id {
		if r > 0x7E || r < 0x21 || r == '/' || r == '\\' {
			return errs.Newf(errs.ErrKindInvalidInput, "invalid client id %q", id)
		}
	}
	return nil
}

// BuildKey returns the storage key for a document:
//
//	[client_<owner>/]<category>/<timestamp>_<sanitized name>
func BuildKey(ownerID string, c Category, name string, at time.Time) string {
	var b strings.Builder
	if ownerID != "" {
		b.WriteString(ownerDirPrefix)
		b.WriteString(ownerID)
		b.WriteByte('/')
	}
	b.WriteString(string(c))
	b.WriteByte('/')
	b.WriteString(keyTime(at))
	b.WriteByte('_')
	b.WriteString(Sanitize(name))
	return b.String()
}

// KeyInfo is what a storage key says about its document.
type KeyInfo struct {
	OwnerID  string
	Category Category
	Leaf     string
}

// ParseKey reads owner and category from key. Keys outside the document
// layout, probe objects included, report false.
func ParseKey(key string) (KeyInfo, bool) {
	parts := strings.Split(key, "/")

	var info KeyInfo
	if len(parts) == 3 {
		if !strings.HasPrefix(parts[0], ownerDirPrefix) || len(parts[0]) == len(ownerDirPrefix) {
			return KeyInfo{}, false
		}
		info.OwnerID = strings.TrimPrefix(parts[0], ownerDirPrefix)
		parts = parts[1:]
	}
	if len(parts) != 2 || parts[1] == "" {
		return KeyInfo{}, false
	}

	info.Category = Category(parts[0])
	if !info.Category.Valid() {
		return KeyInfo{}, false
	}
	info.Leaf = parts[1]
	return info, true
}
