// Package rewrite turns website markup into archive markup: every link,
// image and embed is classified and pointed at an offline location.
package rewrite

// Vocabulary lists the URL segments that identify each kind of website
// object. Matching is case-insensitive.
type Vocabulary struct {
	SiteMarker         string   // Host fragment of the website ("ifixit")
	GuideSegments      []string // First path segment of guide URLs, per language
	DeviceSegments     []string // Category pages
	UserSegment        string
	InfoSegment        string
	NotYetAvailable    []string // Sections not archived yet
	UnavailableOffline []string // Sections that make no sense offline
	DynamicUnavailable []string // Fragments of interactive pages, matched anywhere in the href
}

// DefaultVocabulary returns the iFixit tables.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		SiteMarker:     "ifixit",
		GuideSegments:  []string{"Guide", "Anleitung", "Guía", "Guida", "Tutoriel", "Teardown"},
		DeviceSegments: []string{"Device", "Topic"},
		UserSegment:    "User",
		InfoSegment:    "Info",
		NotYetAvailable: []string{
			"team", "wiki", "answers", "contribute", "document", "help", "aide",
			"item", "mac-parts", "troubleshoot", "userwiki", "users", "stories",
			"blog", "ewaste", "pledge", "right", "manifesto", "tools",
			"user/contributions", "guide/document", "guide/first-look",
			"guide/how+to+sold", "news", "kits", "teardown",
			"vue+%c3%89clat%c3%a9e", "r%c3%a9ponses", "article",
		},
		UnavailableOffline: []string{
			"store", "boutique", "tienda", "products", "game-console-parts",
			"guide/survey", "upgrade/laptop", "search",
		},
		DynamicUnavailable: []string{"Guide/login/register", "Guide/new"},
	}
}

// UnavailableOfflineInfos are info pages whose content only works online.
var UnavailableOfflineInfos = []string{"toolkits"}
