package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/openzim/ifixit/pkg/utils"
)

// Metadata is what the live website says about itself. Every page shows
// it in its header and footer.
type Metadata struct {
	Title       string
	Description string
	Stats       []Stat
	CurrentYear int
}

// Stat is one of the figures of the website home page.
type Stat struct {
	Value json.Number `json:"value"`
	Label string      `json:"label"`
}

// FetchMetadata reads the metadata from the website root page.
func FetchMetadata(ctx context.Context, src Source) (*Metadata, error) {
	body, _, err := src.Fetch(ctx, "/", nil)
	if err != nil {
		return nil, utils.WrapErrorf(err, "fetching website metadata")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: HTML of website root: %v", utils.ErrParsing, err)
	}
	return parseMetadata(doc, time.Now().Year())
}

func parseMetadata(doc *goquery.Document, year int) (*Metadata, error) {
	md := &Metadata{
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		CurrentYear: year,
	}
	md.Description, _ = doc.Find(`meta[name="description"]`).First().Attr("content")

	stats, err := extractStats(doc)
	if err != nil {
		return nil, err
	}
	md.Stats = stats
	return md, nil
}

func extractStats(doc *goquery.Document) ([]Stat, error) {
	kpis := doc.Find(`div[data-name="KPIDisplay"]`)
	switch kpis.Length() {
	case 0:
		return nil, fmt.Errorf("%w: no KPIs found", utils.ErrUnexpectedData)
	case 1:
	default:
		return nil, fmt.Errorf("%w: too many KPIs found", utils.ErrUnexpectedData)
	}
	props, ok := kpis.Attr("data-props")
	if !ok {
		return nil, fmt.Errorf("%w: KPIs not found in data-props", utils.ErrUnexpectedData)
	}

	var kpi struct {
		Stats *[]struct {
			Value *json.Number `json:"value"`
			Label *string      `json:"label"`
		} `json:"stats"`
	}
	if err := json.Unmarshal([]byte(props), &kpi); err != nil {
		return nil, fmt.Errorf("%w: decoding KPIs %q: %v", utils.ErrUnexpectedData, props, err)
	}
	if kpi.Stats == nil {
		return nil, fmt.Errorf("%w: stats not found in KPIs %q", utils.ErrUnexpectedData, props)
	}
	if len(*kpi.Stats) == 0 {
		return nil, fmt.Errorf("%w: stats array is empty", utils.ErrUnexpectedData)
	}

	out := make([]Stat, 0, len(*kpi.Stats))
	for i, s := range *kpi.Stats {
		if s.Value == nil {
			return nil, fmt.Errorf("%w: no value in stat %d", utils.ErrUnexpectedData, i)
		}
		if s.Label == nil {
			return nil, fmt.Errorf("%w: no label in stat %d", utils.ErrUnexpectedData, i)
		}
		out = append(out, Stat{Value: *s.Value, Label: *s.Label})
	}
	return out, nil
}
