package scrape

import (
	"bytes"
	"encoding/json"
)

// Image is a picture reference with its available renditions.
type Image struct {
	ID        int    `json:"id"`
	Thumbnail string `json:"thumbnail"`
	Standard  string `json:"standard"`
	Medium    string `json:"medium"`
	Large     string `json:"large"`
	Original  string `json:"original"`
}

// Flag is a guide flag. Listings return bare identifiers, guide details
// return objects.
type Flag struct {
	ID    string `json:"flagid"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

func (f *Flag) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte(`"`)) {
		return json.Unmarshal(data, &f.ID)
	}
	type plain Flag
	return json.Unmarshal(data, (*plain)(f))
}

func hasFlag(flags []Flag, id string) bool {
	for _, f := range flags {
		if f.ID == id {
			return true
		}
	}
	return false
}

// User is a user profile, or the author of a guide or comment.
type User struct {
	UserID         int     `json:"userid"`
	Username       string  `json:"username"`
	UniqueUsername string  `json:"unique_username"`
	Image          *Image  `json:"image"`
	Reputation     int     `json:"reputation"`
	JoinDate       float64 `json:"join_date"`
	Location       string  `json:"location"`
	AboutRendered  string  `json:"about_rendered"`
}

// Comment is a comment of a guide or step, with its replies.
type Comment struct {
	CommentID    int       `json:"commentid"`
	Author       User      `json:"author"`
	TextRendered string    `json:"text_rendered"`
	Date         float64   `json:"date"`
	Replies      []Comment `json:"replies"`
}

// Tool is a tool or part used by a guide or a category.
type Tool struct {
	Text      string `json:"text"`
	Notes     string `json:"notes"`
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail"`
	Quantity  int    `json:"quantity"`
}

// GuideRef is a guide as listed by the API.
type GuideRef struct {
	GuideID    int    `json:"guideid"`
	Title      string `json:"title"`
	Locale     string `json:"locale"`
	Type       string `json:"type"`
	Subject    string `json:"subject"`
	Image      *Image `json:"image"`
	Flags      []Flag `json:"flags"`
	RevisionID int64  `json:"revisionid"`
}

// WikiRef is a category or info page as listed by the API.
type WikiRef struct {
	Title        string `json:"title"`
	DisplayTitle string `json:"display_title"`
	Namespace    string `json:"namespace"`
	Image        *Image `json:"image"`
}

// CategoryParts summarizes the parts sold for a category.
type CategoryParts struct {
	Total int `json:"total"`
}

// Category is the /wikis/CATEGORY payload.
type Category struct {
	Title            string         `json:"title"`
	DisplayTitle     string         `json:"display_title"`
	RevisionID       int64          `json:"revisionid"`
	Description      string         `json:"description"`
	ContentsRendered string         `json:"contents_rendered"`
	Image            *Image         `json:"image"`
	Children         []WikiRef      `json:"children"`
	FeaturedGuides   []GuideRef     `json:"featured_guides"`
	Guides           []GuideRef     `json:"guides"`
	RelatedWikis     []WikiRef      `json:"related_wikis"`
	Parts            *CategoryParts `json:"parts"`
	Tools            []Tool         `json:"tools"`
}

// Info is the /wikis/INFO payload.
type Info struct {
	Title            string `json:"title"`
	DisplayTitle     string `json:"display_title"`
	RevisionID       int64  `json:"revisionid"`
	ContentsRendered string `json:"contents_rendered"`
	Image            *Image `json:"image"`
}

// Media is the illustration of a guide step. Data depends on Type: a list
// of images, a video object or an embed object.
type Media struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// StepLine is one bullet of a step.
type StepLine struct {
	Bullet       string `json:"bullet"`
	Level        int    `json:"level"`
	TextRendered string `json:"text_rendered"`
}

// Step is one step of a guide. The view fields are filled when the guide
// is validated.
type Step struct {
	StepID   int        `json:"stepid"`
	OrderBy  int        `json:"orderby"`
	Title    string     `json:"title"`
	Media    *Media     `json:"media"`
	Lines    []StepLine `json:"lines"`
	Comments []Comment  `json:"comments"`

	Images     []Image `json:"-"`
	VideoImage *Image  `json:"-"`
	EmbedHTML  string  `json:"-"`
}

// Guide is the /guides/<id> payload.
type Guide struct {
	GuideID              int       `json:"guideid"`
	Title                string    `json:"title"`
	Locale               string    `json:"locale"`
	Type                 string    `json:"type"`
	Category             string    `json:"category"`
	Subject              string    `json:"subject"`
	Difficulty           string    `json:"difficulty"`
	TimeRequired         string    `json:"time_required"`
	IntroductionRendered string    `json:"introduction_rendered"`
	ConclusionRendered   string    `json:"conclusion_rendered"`
	Image                *Image    `json:"image"`
	Author               User      `json:"author"`
	PublishedDate        float64   `json:"published_date"`
	Flags                []Flag    `json:"flags"`
	Tools                []Tool    `json:"tools"`
	Parts                []Tool    `json:"parts"`
	Steps                []Step    `json:"steps"`
	Comments             []Comment `json:"comments"`

	DifficultyClass string `json:"-"`
}

// categoryTree is the nested /categories listing: title to children, null
// for leaves.
type categoryTree map[string]categoryTree
