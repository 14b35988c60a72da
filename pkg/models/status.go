package models

// Kind identifies a family of entities scraped from the website
type Kind string

const (
	KindHome     Kind = "home"
	KindCategory Kind = "category"
	KindGuide    Kind = "guide"
	KindInfo     Kind = "info"
	KindUser     Kind = "user"
)

// AllKinds lists every kind in orchestration order.
var AllKinds = []Kind{KindHome, KindCategory, KindGuide, KindInfo, KindUser}

// String implements fmt.Stringer for logging
func (k Kind) String() string {
	if k == "" {
		return "unset"
	}
	return string(k)
}

// IsValid returns true if the kind is one the scraper handles
func (k Kind) IsValid() bool {
	switch k {
	case KindHome, KindCategory, KindGuide, KindInfo, KindUser:
		return true
	}
	return false
}

// ItemState is the lifecycle state of a frontier item.
// Transitions are one way: queued -> processing -> done | missing | error.
type ItemState string

const (
	ItemStateUnset      ItemState = ""           // Zero value = key unknown
	ItemStateQueued     ItemState = "queued"     // Registered, waiting in the queue
	ItemStateProcessing ItemState = "processing" // Currently being scraped
	ItemStateDone       ItemState = "done"       // Written to the archive
	ItemStateMissing    ItemState = "missing"    // Source returned nothing
	ItemStateError      ItemState = "error"      // Processing failed
)

// String implements fmt.Stringer for logging
func (s ItemState) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the state is a known operational value
func (s ItemState) IsValid() bool {
	switch s {
	case ItemStateQueued, ItemStateProcessing, ItemStateDone, ItemStateMissing, ItemStateError:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition can happen.
func (s ItemState) IsTerminal() bool {
	return s == ItemStateDone || s == ItemStateMissing || s == ItemStateError
}

// Placeholder names one of the static pages written under home/ that
// stand in for content which is not in the archive.
type Placeholder string

const (
	PlaceholderNotScrapped        Placeholder = "not_scrapped"
	PlaceholderExternalContent    Placeholder = "external_content"
	PlaceholderUnavailableOffline Placeholder = "unavailable_offline"
	PlaceholderNotYetAvailable    Placeholder = "not_yet_available"
	PlaceholderMissing            Placeholder = "missing"
	PlaceholderError              Placeholder = "error"
)

// AllPlaceholders lists every placeholder page the home handler writes.
var AllPlaceholders = []Placeholder{
	PlaceholderNotScrapped,
	PlaceholderExternalContent,
	PlaceholderUnavailableOffline,
	PlaceholderNotYetAvailable,
	PlaceholderMissing,
	PlaceholderError,
}

// Path returns the archive path of the placeholder page.
func (p Placeholder) Path() string {
	return "home/" + string(p)
}
