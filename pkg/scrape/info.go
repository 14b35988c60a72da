package scrape

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/openzim/ifixit/pkg/frontier"
	"github.com/openzim/ifixit/pkg/models"
	"github.com/openzim/ifixit/pkg/rewrite"
	"github.com/openzim/ifixit/pkg/utils"
)

// InfoData is what the frontier keeps about an info page.
type InfoData struct {
	Title string
}

// InfoHandler scrapes the informational wiki pages.
type InfoHandler struct {
	s        *Scraper
	frontier *frontier.Frontier[InfoData]
}

type infoPage struct {
	Lang     string
	Metadata *Metadata
	Info     *Info
}

func (h *InfoHandler) Kind() models.Kind { return models.KindInfo }

// Frontier returns the info frontier.
func (h *InfoHandler) Frontier() *frontier.Frontier[InfoData] { return h.frontier }

func infoKey(title string) string { return utils.TitleToKey(title) }

func (h *InfoHandler) path(ctx context.Context, title string) string {
	return h.s.env.sitePath(ctx, "/Info/"+strings.ReplaceAll(title, "/", " "))
}

// LinkFromObject returns the link to an info page listed in a payload.
func (h *InfoHandler) LinkFromObject(ctx context.Context, w WikiRef) (string, error) {
	if w.Title == "" {
		return "", fmt.Errorf("%w: info without title", utils.ErrUnexpectedData)
	}
	return h.LinkFromProps(ctx, w.Title)
}

// LinkFromProps returns the archive link of an info page, registering it
// when it is in scope.
func (h *InfoHandler) LinkFromProps(ctx context.Context, title string) (string, error) {
	cfg := h.s.env.Config
	quoted := utils.QuotePath(h.path(ctx, title))
	if cfg.NoInfo {
		return notScrapped(quoted), nil
	}
	if slices.Contains(rewrite.UnavailableOfflineInfos, title) {
		return models.PlaceholderUnavailableOffline.Path() + "?url=" + quoted, nil
	}
	key := infoKey(title)
	if len(cfg.Infos) > 0 && !containsKey(cfg.Infos, key, infoKey) {
		return notScrapped(quoted), nil
	}
	h.frontier.AddItem(key, InfoData{Title: title}, false)
	return quoted, nil
}

// Resolve implements rewrite.Resolver for info links.
func (h *InfoHandler) Resolve(ctx context.Context, ref rewrite.Reference) (string, error) {
	return h.LinkFromProps(ctx, ref.Title)
}

func (h *InfoHandler) BuildExpected(ctx context.Context, f *frontier.Frontier[InfoData]) error {
	cfg := h.s.env.Config
	log := h.s.env.Log.WithField("kind", models.KindInfo)
	if cfg.NoInfo {
		log.Info("No info required")
		return nil
	}
	if len(cfg.Infos) > 0 {
		log.Info("Adding required infos as expected")
		for _, title := range cfg.Infos {
			f.AddItem(infoKey(title), InfoData{Title: title}, true)
		}
		return nil
	}

	log.Info("Downloading list of info")
	for offset := 0; ; offset += listingPageSize {
		var wikis []WikiRef
		params := url.Values{"limit": {strconv.Itoa(listingPageSize)}, "offset": {strconv.Itoa(offset)}}
		if _, err := h.s.env.Source.FetchJSON(ctx, "/wikis/INFO", params, &wikis); err != nil {
			return utils.WrapErrorf(err, "listing infos at offset %d", offset)
		}
		if len(wikis) == 0 {
			break
		}
		for _, w := range wikis {
			f.AddItem(infoKey(w.Title), InfoData{Title: w.Title}, true)
		}
		if cfg.ScrapeOnlyFirstItems {
			log.Warn("Aborting the retrieval of all infos since only first items will be scraped anyway")
			break
		}
	}
	log.Infof("%d info found", f.Stats().Expected)
	return nil
}

func (h *InfoHandler) Content(ctx context.Context, item models.WorkItem[InfoData]) (any, error) {
	var info Info
	found, err := h.s.env.Source.FetchJSON(ctx, "/wikis/INFO/"+item.Key, nil, &info)
	if err != nil || !found {
		return nil, err
	}
	return &info, nil
}

func (h *InfoHandler) Process(ctx context.Context, item models.WorkItem[InfoData], content any) error {
	info, ok := content.(*Info)
	if !ok {
		return fmt.Errorf("%w: info content is %T", utils.ErrUnexpectedData, content)
	}
	path := h.path(ctx, info.Title)
	page, err := h.s.render(ctx, "info.html", path, infoPage{
		Lang:     h.s.env.Lang(),
		Metadata: h.s.env.Metadata,
		Info:     info,
	})
	if err != nil {
		return err
	}
	return h.s.env.addHTML(path, info.DisplayTitle, page)
}

func (h *InfoHandler) Redirect(ctx context.Context, item models.WorkItem[InfoData], target models.Placeholder) error {
	return h.s.env.redirectToPlaceholder(h.path(ctx, item.Data.Title), target)
}
