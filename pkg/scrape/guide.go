package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/openzim/ifixit/pkg/frontier"
	"github.com/openzim/ifixit/pkg/models"
	"github.com/openzim/ifixit/pkg/rewrite"
	"github.com/openzim/ifixit/pkg/utils"
)

// GuideData is what the frontier keeps about a guide.
type GuideData struct {
	ID     int
	Title  string
	Locale string
}

// GuideHandler scrapes repair guides and teardowns.
type GuideHandler struct {
	s        *Scraper
	frontier *frontier.Frontier[GuideData]
}

type guidePage struct {
	Lang     string
	Metadata *Metadata
	Labels   labelSet
	Guide    *Guide
}

func (h *GuideHandler) Kind() models.Kind { return models.KindGuide }

// Frontier returns the guide frontier.
func (h *GuideHandler) Frontier() *frontier.Frontier[GuideData] { return h.frontier }

func guideKey(id int) string { return strconv.Itoa(id) }

func (h *GuideHandler) path(ctx context.Context, id int) string {
	return h.s.env.sitePath(ctx, fmt.Sprintf("/Guide/-/%d", id))
}

// LinkFromObject returns the link to a guide listed in a payload. The
// listing tells the real locale and title of guides that were expected
// without them.
func (h *GuideHandler) LinkFromObject(ctx context.Context, g GuideRef) (string, error) {
	switch {
	case g.GuideID == 0:
		return "", fmt.Errorf("%w: guide without id", utils.ErrUnexpectedData)
	case g.Locale == "":
		return "", fmt.Errorf("%w: guide %d without locale", utils.ErrUnexpectedData, g.GuideID)
	case g.Title == "":
		return "", fmt.Errorf("%w: guide %d without title", utils.ErrUnexpectedData, g.GuideID)
	}
	h.frontier.UpdateExpected(guideKey(g.GuideID), func(d *GuideData) {
		if d.Locale == UnknownLocale {
			d.Locale = g.Locale
		}
		if d.Title == UnknownTitle {
			d.Title = g.Title
		}
	})
	return h.LinkFromProps(ctx, g.GuideID, g.Title, g.Locale)
}

// LinkFromProps returns the archive link of a guide, registering it when
// it is in scope.
func (h *GuideHandler) LinkFromProps(ctx context.Context, id int, title, locale string) (string, error) {
	cfg := h.s.env.Config
	quoted := utils.QuotePath(h.path(ctx, id))
	if cfg.NoGuide {
		return notScrapped(quoted), nil
	}
	key := guideKey(id)
	if len(cfg.Guides) > 0 && !slices.Contains(cfg.Guides, key) {
		return notScrapped(quoted), nil
	}
	h.frontier.AddItem(key, GuideData{ID: id, Title: title, Locale: locale}, false)
	return quoted, nil
}

// Resolve implements rewrite.Resolver for guide links.
func (h *GuideHandler) Resolve(ctx context.Context, ref rewrite.Reference) (string, error) {
	id, err := strconv.Atoi(ref.ID)
	if err != nil {
		return "", fmt.Errorf("%w: guide id %q", utils.ErrUnexpectedData, ref.ID)
	}
	return h.LinkFromProps(ctx, id, ref.Title, UnknownLocale)
}

func (h *GuideHandler) BuildExpected(ctx context.Context, f *frontier.Frontier[GuideData]) error {
	cfg := h.s.env.Config
	log := h.s.env.Log.WithField("kind", models.KindGuide)
	if cfg.NoGuide {
		log.Info("No guide required")
		return nil
	}
	if len(cfg.Guides) > 0 {
		log.Info("Adding required guides as expected")
		for _, raw := range cfg.Guides {
			id, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("%w: guide id %q is not a number", utils.ErrConfigValidation, raw)
			}
			f.AddItem(guideKey(id), GuideData{ID: id, Title: UnknownTitle, Locale: UnknownLocale}, true)
		}
		return nil
	}

	log.Info("Downloading list of guides")
	for offset := 0; ; offset += listingPageSize {
		var guides []GuideRef
		params := url.Values{"limit": {strconv.Itoa(listingPageSize)}, "offset": {strconv.Itoa(offset)}}
		if _, err := h.s.env.Source.FetchJSON(ctx, "/guides", params, &guides); err != nil {
			return utils.WrapErrorf(err, "listing guides at offset %d", offset)
		}
		if len(guides) == 0 {
			break
		}
		for _, g := range guides {
			// archived guides are not reachable on the website either
			if hasFlag(g.Flags, "GUIDE_ARCHIVED") {
				continue
			}
			if g.RevisionID == 0 {
				log.WithField("key", guideKey(g.GuideID)).Warn("Found one guide with revisionid=0")
			}
			// the listing always claims "en", so the locale is not trusted
			f.AddItem(guideKey(g.GuideID), GuideData{ID: g.GuideID, Title: UnknownTitle, Locale: UnknownLocale}, true)
		}
		if cfg.ScrapeOnlyFirstItems {
			log.Warn("Aborting the retrieval of all guides since only first items will be scraped anyway")
			break
		}
	}
	log.Infof("%d guides found", f.Stats().Expected)
	return nil
}

// apiLocale maps a guide locale to the API langid.
func (h *GuideHandler) apiLocale(locale string) string {
	if locale == UnknownLocale || locale == "" {
		locale = h.s.env.Lang()
	}
	if locale == "ja" {
		locale = "jp"
	}
	return locale
}

func (h *GuideHandler) Content(ctx context.Context, item models.WorkItem[GuideData]) (any, error) {
	locale := h.apiLocale(item.Data.Locale)
	apiPath := "/guides/" + item.Key

	var g Guide
	found, err := h.s.env.Source.FetchJSON(ctx, apiPath, url.Values{"langid": {locale}}, &g)
	if err != nil {
		return nil, err
	}
	if !found && locale != "en" {
		// the English version usually exists
		g = Guide{}
		found, err = h.s.env.Source.FetchJSON(ctx, apiPath, url.Values{"langid": {"en"}}, &g)
		if err != nil {
			return nil, err
		}
	}
	if !found {
		return nil, nil
	}
	return &g, nil
}

// validateGuide checks the parts of the payload the templates rely on and
// fills the view fields.
func validateGuide(g *Guide) error {
	if g.Type != "teardown" {
		class, ok := difficultyClass(g.Difficulty)
		if !ok {
			return fmt.Errorf("%w: unknown guide difficulty %q in guide %d", utils.ErrUnexpectedData, g.Difficulty, g.GuideID)
		}
		g.DifficultyClass = class
	}

	for i := range g.Steps {
		step := &g.Steps[i]
		if err := validateStepMedia(step); err != nil {
			return fmt.Errorf("%w in step %d of guide %d", err, step.StepID, g.GuideID)
		}
		for _, line := range step.Lines {
			if !knownBullets[line.Bullet] {
				return fmt.Errorf("%w: unrecognized bullet %q in step %d of guide %d",
					utils.ErrUnexpectedData, line.Bullet, step.StepID, g.GuideID)
			}
		}
	}
	return nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	switch string(raw) {
	case "", "null", "{}", "[]", `""`:
		return true
	}
	return false
}

func validateStepMedia(step *Step) error {
	if step.Media == nil || step.Media.Type == "" {
		return fmt.Errorf("%w: missing media attribute", utils.ErrUnexpectedData)
	}
	media := step.Media
	switch media.Type {
	case "image":
		if isEmptyJSON(media.Data) {
			return nil
		}
		if err := json.Unmarshal(media.Data, &step.Images); err != nil {
			return fmt.Errorf("%w: image media: %v", utils.ErrUnexpectedData, err)
		}
	case "video":
		if isEmptyJSON(media.Data) {
			return fmt.Errorf("%w: missing 'data'", utils.ErrUnexpectedData)
		}
		var video struct {
			Image *struct {
				Image json.RawMessage `json:"image"`
			} `json:"image"`
		}
		if err := json.Unmarshal(media.Data, &video); err != nil {
			return fmt.Errorf("%w: video media: %v", utils.ErrUnexpectedData, err)
		}
		if video.Image == nil {
			return fmt.Errorf("%w: missing outer 'image'", utils.ErrUnexpectedData)
		}
		if isEmptyJSON(video.Image.Image) {
			return fmt.Errorf("%w: missing inner 'image'", utils.ErrUnexpectedData)
		}
		var img Image
		if err := json.Unmarshal(video.Image.Image, &img); err != nil {
			return fmt.Errorf("%w: video image: %v", utils.ErrUnexpectedData, err)
		}
		step.VideoImage = &img
	case "embed":
		if isEmptyJSON(media.Data) {
			return fmt.Errorf("%w: missing 'data'", utils.ErrUnexpectedData)
		}
		var embed struct {
			HTML string `json:"html"`
		}
		if err := json.Unmarshal(media.Data, &embed); err != nil {
			return fmt.Errorf("%w: embed media: %v", utils.ErrUnexpectedData, err)
		}
		if embed.HTML == "" {
			return fmt.Errorf("%w: missing 'html'", utils.ErrUnexpectedData)
		}
		step.EmbedHTML = embed.HTML
	default:
		return fmt.Errorf("%w: unrecognized media type %q", utils.ErrUnexpectedData, media.Type)
	}
	return nil
}

func (h *GuideHandler) Process(ctx context.Context, item models.WorkItem[GuideData], content any) error {
	g, ok := content.(*Guide)
	if !ok {
		return fmt.Errorf("%w: guide content is %T", utils.ErrUnexpectedData, content)
	}
	if err := validateGuide(g); err != nil {
		return err
	}
	path := h.path(ctx, g.GuideID)
	page, err := h.s.render(ctx, "guide.html", path, guidePage{
		Lang:     h.s.env.Lang(),
		Metadata: h.s.env.Metadata,
		Labels:   labelsFor(guideLabels, h.s.env.Lang()),
		Guide:    g,
	})
	if err != nil {
		return err
	}
	return h.s.env.addHTML(path, g.Title, page)
}

func (h *GuideHandler) Redirect(ctx context.Context, item models.WorkItem[GuideData], target models.Placeholder) error {
	if item.Data.Title == UnknownTitle {
		h.s.env.Log.WithFields(logrus.Fields{"kind": models.KindGuide, "key": item.Key}).
			Warnf("Cannot add %s redirect for guide with unknown title", target)
		return nil
	}
	return h.s.env.redirectToPlaceholder(h.path(ctx, item.Data.ID), target)
}
