// Package content loads a campaign's rendered HTML artifact and rewrites
// authoring-time asset placeholders to public bucket URLs.
package content

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ignite/newsletter-dispatch/internal/archive"
	"github.com/ignite/newsletter-dispatch/internal/store"
)

// ErrContentMissing is returned when a campaign has no mail.html artifact.
var ErrContentMissing = errors.New("content artifact missing")

// objectGetter fetches raw objects from the archive bucket.
type objectGetter interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// Loader reads rendered campaign content from the archive bucket.
type Loader struct {
	objects objectGetter
}

// NewLoader creates a content loader backed by the given store.
func NewLoader(objects objectGetter) *Loader {
	return &Loader{objects: objects}
}

// Load fetches the campaign's rendered HTML. A missing artifact is reported
// as ErrContentMissing; other fetch failures are wrapped as-is.
func (l *Loader) Load(ctx context.Context, coords archive.Coordinates) (string, error) {
	data, err := l.objects.GetObject(ctx, coords.HTMLKey())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrContentMissing, coords.HTMLKey())
		}
		return "", fmt.Errorf("loading %s: %w", coords.HTMLKey(), err)
	}
	return string(data), nil
}

// imgPlaceholderPattern matches img tags whose src uses the authoring-time
// /mail-assets/ placeholder directory, in any letter casing.
var imgPlaceholderPattern = regexp.MustCompile(`(?i)<img[^>]*src=['"]/mail-assets/([^'"]+)['"]`)

var placeholderDirPattern = regexp.MustCompile(`(?i)/mail-assets/[^'"]+`)

// RewriteAssetPaths replaces every /mail-assets/<file> image reference with
// the campaign's public assets URL:
// <baseAssetURL>/archives/<yyyy>/<mm>/<dd-slug>/assets/<file>.
// The transform is pure. Applying it to already-rewritten HTML is a no-op
// because rewritten URLs no longer contain the placeholder directory.
func RewriteAssetPaths(html, baseAssetURL string, coords archive.Coordinates) string {
	base := strings.TrimRight(baseAssetURL, "/")

	return imgPlaceholderPattern.ReplaceAllStringFunc(html, func(tag string) string {
		m := imgPlaceholderPattern.FindStringSubmatch(tag)
		if m == nil {
			return tag
		}
		assetURL := fmt.Sprintf("%s/%s/assets/%s", base, coords.Path(), m[1])
		return placeholderDirPattern.ReplaceAllString(tag, assetURL)
	})
}
