// Package assets schedules, downloads, normalizes and deduplicates the
// images referenced by scraped pages.
package assets

import (
	"net/url"
	"strings"
)

// PlaceholderImagePath is where the generic missing-image picture lives.
// Every asset that cannot be produced redirects to it.
const PlaceholderImagePath = "assets/NoImage_300x225.jpg"

// PathFor returns the archive path of an asset: images/<scheme>/<host><path>.
// Query and fragment are dropped and the path is URL-decoded.
func PathFor(u *url.URL) string {
	p := u.Path
	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return "images/" + u.Scheme + "/" + u.Host + p
}

// isSVGPath reports whether an asset path designates a vector image.
func isSVGPath(p string) bool {
	return strings.HasSuffix(strings.ToLower(p), ".svg") || strings.Contains(p, "/math/render/svg/")
}
