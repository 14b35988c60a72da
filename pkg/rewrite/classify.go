package rewrite

import (
	"net/url"
	"regexp"
	"strings"
)

// RefKind is the class of a hyperlink target.
type RefKind string

const (
	RefAnchor             RefKind = "anchor"
	RefGuide              RefKind = "guide"
	RefCategory           RefKind = "category"
	RefUser               RefKind = "user"
	RefInfo               RefKind = "info"
	RefNotYetAvailable    RefKind = "not_yet_available"
	RefUnavailableOffline RefKind = "unavailable_offline"
	RefExternal           RefKind = "external"
)

// Reference is a classified href.
type Reference struct {
	Kind  RefKind
	ID    string // guide and user ids
	Title string // decoded title segment
	After string // trailing fragment, "#..." or empty
	Href  string // the href that was classified
}

// Classifier matches hrefs against a compiled Vocabulary.
type Classifier struct {
	vocab   Vocabulary
	pattern *regexp.Regexp
	idx     map[string]int
	notYet  map[string]struct{}
	offline map[string]struct{}
}

// Python-style \w: any letter, digit or underscore, not just ASCII.
const wordClass = `\p{L}\p{N}_`

func alternation(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = regexp.QuoteMeta(it)
	}
	return strings.Join(quoted, "|")
}

func lowerSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[strings.ToLower(it)] = struct{}{}
	}
	return set
}

// NewClassifier compiles v.
func NewClassifier(v Vocabulary) *Classifier {
	host := `(?:https*://[` + wordClass + `\.]*(?:` + regexp.QuoteMeta(v.SiteMarker) + `)[` + wordClass + `\.]*)*`
	kinds := append(append([]string{}, v.NotYetAvailable...), v.UnavailableOffline...)

	expr := `(?i)^(?P<anchor>#.*)$|^` + host + `/(` +
		`(?:(?P<kind>` + alternation(kinds) + `)(?:/.+)?)` +
		`|(?:(?P<guide>` + alternation(v.GuideSegments) + `)/(?P<guidetitle>.+)/(?P<guideid>\d+)(?P<guideafter>#.*)?.*)` +
		`|(?:(?P<device>` + alternation(v.DeviceSegments) + `)/(?P<devicetitle>[` + wordClass + `%_\.-]+)(?P<deviceafter>#.*)?.*)` +
		`|(?P<user>` + regexp.QuoteMeta(v.UserSegment) + `)/(?P<userid>\d*)/(?P<usertitle>[` + wordClass + `%_\.+'-]+)(?P<userafter>#.*)?.*` +
		`|(?:(?P<info>` + regexp.QuoteMeta(v.InfoSegment) + `)/(?P<infotitle>[` + wordClass + `%_\.-]+)(?P<infoafter>#.*)?.*)` +
		`)$`

	re := regexp.MustCompile(expr)
	idx := make(map[string]int)
	for i, name := range re.SubexpNames() {
		if name != "" {
			idx[name] = i
		}
	}
	return &Classifier{
		vocab:   v,
		pattern: re,
		idx:     idx,
		notYet:  lowerSet(v.NotYetAvailable),
		offline: lowerSet(v.UnavailableOffline),
	}
}

func unquotePlus(s string) string {
	if out, err := url.QueryUnescape(s); err == nil {
		return out
	}
	return s
}

// Classify returns what href points at. ok is false when href matched a
// deny-list entry that belongs to neither list, which only happens with an
// inconsistent vocabulary.
func (c *Classifier) Classify(href string) (Reference, bool) {
	ref := Reference{Href: href}
	for _, frag := range c.vocab.DynamicUnavailable {
		if strings.Contains(href, frag) {
			ref.Kind = RefUnavailableOffline
			return ref, true
		}
	}

	m := c.pattern.FindStringSubmatch(href)
	if m == nil {
		ref.Kind = RefExternal
		return ref, true
	}
	group := func(name string) string { return m[c.idx[name]] }

	switch {
	case group("anchor") != "":
		ref.Kind = RefAnchor
	case group("guide") != "":
		ref.Kind = RefGuide
		ref.ID = group("guideid")
		ref.Title = unquotePlus(group("guidetitle"))
		ref.After = group("guideafter")
	case group("device") != "":
		ref.Kind = RefCategory
		ref.Title = unquotePlus(group("devicetitle"))
		ref.After = group("deviceafter")
	case group("info") != "":
		ref.Kind = RefInfo
		ref.Title = unquotePlus(group("infotitle"))
		ref.After = group("infoafter")
	case group("user") != "":
		ref.Kind = RefUser
		ref.ID = group("userid")
		ref.Title = unquotePlus(group("usertitle"))
		ref.After = group("userafter")
	case group("kind") != "":
		kind := strings.ToLower(group("kind"))
		if _, ok := c.notYet[kind]; ok {
			ref.Kind = RefNotYetAvailable
		} else if _, ok := c.offline[kind]; ok {
			ref.Kind = RefUnavailableOffline
		} else {
			return ref, false
		}
	default:
		return ref, false
	}
	return ref, true
}
