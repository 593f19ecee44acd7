package archive

import (
	"fmt"
	"regexp"
)

// Coordinates identifies one campaign archive by its S3 path components:
// archives/<yyyy>/<mm>/<dd-slug>/...
type Coordinates struct {
	YYYY   string
	MM     string
	DDSlug string
}

// configKeyPattern parses object keys like archives/2026/01/14-summer-sale/config.json
var configKeyPattern = regexp.MustCompile(`^archives/(\d{4})/(\d{2})/([^/]+)/config\.json$`)

// ParseConfigKey extracts archive coordinates from a config.json object key.
// Returns false for keys that do not match the archive layout.
func ParseConfigKey(key string) (Coordinates, bool) {
	m := configKeyPattern.FindStringSubmatch(key)
	if m == nil {
		return Coordinates{}, false
	}
	return Coordinates{YYYY: m[1], MM: m[2], DDSlug: m[3]}, true
}

// Path returns the archive directory prefix, without a trailing slash.
func (c Coordinates) Path() string {
	return fmt.Sprintf("archives/%s/%s/%s", c.YYYY, c.MM, c.DDSlug)
}

// ConfigKey returns the object key of the campaign's metadata record.
func (c Coordinates) ConfigKey() string {
	return c.Path() + "/config.json"
}

// HTMLKey returns the object key of the rendered content artifact.
func (c Coordinates) HTMLKey() string {
	return c.Path() + "/mail.html"
}

func (c Coordinates) String() string {
	return c.Path()
}
