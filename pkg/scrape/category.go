package scrape

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/openzim/ifixit/pkg/config"
	"github.com/openzim/ifixit/pkg/frontier"
	"github.com/openzim/ifixit/pkg/models"
	"github.com/openzim/ifixit/pkg/rewrite"
	"github.com/openzim/ifixit/pkg/utils"
)

// CategoryData is what the frontier keeps about a category.
type CategoryData struct {
	Title string
}

// CategoryHandler scrapes device categories.
type CategoryHandler struct {
	s        *Scraper
	frontier *frontier.Frontier[CategoryData]
}

type categoryPage struct {
	Lang     string
	Metadata *Metadata
	Labels   labelSet
	Category *Category
}

func (h *CategoryHandler) Kind() models.Kind { return models.KindCategory }

// Frontier returns the category frontier.
func (h *CategoryHandler) Frontier() *frontier.Frontier[CategoryData] { return h.frontier }

func categoryKey(title string) string { return utils.TitleToKey(title) }

func (h *CategoryHandler) path(ctx context.Context, title string) string {
	return h.s.env.sitePath(ctx, "/Device/"+strings.ReplaceAll(title, "/", " "))
}

// LinkFromObject returns the link to a category listed in a payload.
func (h *CategoryHandler) LinkFromObject(ctx context.Context, c WikiRef) (string, error) {
	if c.Title == "" {
		return "", fmt.Errorf("%w: category without title", utils.ErrUnexpectedData)
	}
	return h.LinkFromProps(ctx, c.Title)
}

// LinkFromProps returns the archive link of the category titled title,
// registering it when it is in scope.
func (h *CategoryHandler) LinkFromProps(ctx context.Context, title string) (string, error) {
	cfg := h.s.env.Config
	quoted := utils.QuotePath(h.path(ctx, title))
	if cfg.NoCategory {
		return notScrapped(quoted), nil
	}
	key := categoryKey(title)
	if len(cfg.Categories) > 0 && !containsKey(cfg.Categories, key, categoryKey) {
		return notScrapped(quoted), nil
	}
	h.frontier.AddItem(key, CategoryData{Title: title}, false)
	return quoted, nil
}

// Resolve implements rewrite.Resolver for category links.
func (h *CategoryHandler) Resolve(ctx context.Context, ref rewrite.Reference) (string, error) {
	return h.LinkFromProps(ctx, ref.Title)
}

func (h *CategoryHandler) BuildExpected(ctx context.Context, f *frontier.Frontier[CategoryData]) error {
	cfg := h.s.env.Config
	log := h.s.env.Log.WithField("kind", models.KindCategory)
	if cfg.NoCategory {
		log.Info("No category required")
		return nil
	}
	if len(cfg.Categories) > 0 {
		log.Info("Adding required categories as expected")
		for _, title := range cfg.Categories {
			f.AddItem(categoryKey(title), CategoryData{Title: title}, true)
		}
		return nil
	}

	log.Info("Downloading list of categories")
	var tree categoryTree
	found, err := h.s.env.Source.FetchJSON(ctx, "/categories", url.Values{"includeStubs": {"True"}}, &tree)
	if err != nil {
		return utils.WrapErrorf(err, "listing categories")
	}
	if !found {
		return fmt.Errorf("%w: category listing is empty", utils.ErrUnexpectedData)
	}
	addCategoryTree(f, tree)
	log.Infof("%d categories found", f.Stats().Expected)
	return nil
}

func addCategoryTree(f *frontier.Frontier[CategoryData], tree categoryTree) {
	titles := make([]string, 0, len(tree))
	for title := range tree {
		titles = append(titles, title)
	}
	sort.Strings(titles)
	for _, title := range titles {
		f.AddItem(categoryKey(title), CategoryData{Title: title}, true)
		if len(tree[title]) > 0 {
			addCategoryTree(f, tree[title])
		}
	}
}

// categoryLanguages lists the languages tried for category content.
func (h *CategoryHandler) categoryLanguages() []string {
	seen := make(map[string]bool)
	var langs []string
	for _, l := range append([]string{h.s.env.Lang(), "en"}, config.LanguageCodes()...) {
		if !seen[l] {
			seen[l] = true
			langs = append(langs, l)
		}
	}
	return langs
}

func (h *CategoryHandler) Content(ctx context.Context, item models.WorkItem[CategoryData]) (any, error) {
	log := h.s.env.Log.WithFields(logrus.Fields{"kind": models.KindCategory, "key": item.Key})
	for i, lang := range h.categoryLanguages() {
		if i > 0 {
			log.Warnf("Falling back to category in %s", lang)
		}
		var c Category
		found, err := h.s.env.Source.FetchJSON(ctx, "/wikis/CATEGORY/"+item.Key, url.Values{"langid": {lang}}, &c)
		if err != nil {
			return nil, err
		}
		if found && c.RevisionID > 0 {
			return &c, nil
		}
	}
	log.Warn("Impossible to get category content")
	h.s.env.addNullCategory(item.Key)
	return nil, nil
}

func (h *CategoryHandler) Process(ctx context.Context, item models.WorkItem[CategoryData], content any) error {
	c, ok := content.(*Category)
	if !ok {
		return fmt.Errorf("%w: category content is %T", utils.ErrUnexpectedData, content)
	}
	path := h.path(ctx, c.Title)
	page, err := h.s.render(ctx, "category.html", path, categoryPage{
		Lang:     h.s.env.Lang(),
		Metadata: h.s.env.Metadata,
		Labels:   labelsFor(categoryLabels, h.s.env.Lang()),
		Category: c,
	})
	if err != nil {
		return err
	}
	return h.s.env.addHTML(path, c.DisplayTitle, page)
}

func (h *CategoryHandler) Redirect(ctx context.Context, item models.WorkItem[CategoryData], target models.Placeholder) error {
	return h.s.env.redirectToPlaceholder(h.path(ctx, item.Data.Title), target)
}
