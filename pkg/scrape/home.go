package scrape

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/openzim/ifixit/pkg/archive"
	"github.com/openzim/ifixit/pkg/frontier"
	"github.com/openzim/ifixit/pkg/models"
	"github.com/openzim/ifixit/pkg/utils"
)

// HomeData is empty: there is a single home item.
type HomeData struct{}

// HomeHandler builds the archive home page from the website guide index,
// plus the placeholder pages other kinds link to.
type HomeHandler struct {
	s        *Scraper
	frontier *frontier.Frontier[HomeData]
}

// HomeContent is what the home page shows.
type HomeContent struct {
	MainTitle          string
	PageTitle          string
	PrimaryTitle       string
	SecondaryTitle     string
	Callout            Callout
	FeaturedCategories []FeaturedCategory
	SubCategories      []SubCategory
}

// Callout is the highlighted block of the home page.
type Callout struct {
	Content string
	ImgURL  string
}

// FeaturedCategory is a category tile with a picture.
type FeaturedCategory struct {
	Text   string
	ImgURL string
	Name   string
	Title  string
}

// SubCategory is a category entry with its guide count.
type SubCategory struct {
	Text  string
	Name  string
	Count int
	Title string
}

type homePage struct {
	Lang     string
	Metadata *Metadata
	TopTitle string
	Home     *HomeContent
}

type notHerePage struct {
	Lang     string
	Metadata *Metadata
	Kind     models.Placeholder
}

var deviceHref = regexp.MustCompile(`/Device/(?P<device>.*)`)

func (h *HomeHandler) Kind() models.Kind { return models.KindHome }

// Frontier returns the home frontier.
func (h *HomeHandler) Frontier() *frontier.Frontier[HomeData] { return h.frontier }

func (h *HomeHandler) BuildExpected(ctx context.Context, f *frontier.Frontier[HomeData]) error {
	f.AddItem(HomeKey, HomeData{}, true)
	return nil
}

func (h *HomeHandler) Content(ctx context.Context, item models.WorkItem[HomeData]) (any, error) {
	body, _, err := h.s.env.Source.Fetch(ctx, "/Guide", nil)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: HTML of guide index: %v", utils.ErrParsing, err)
	}
	return doc, nil
}

func (h *HomeHandler) Process(ctx context.Context, item models.WorkItem[HomeData], content any) error {
	doc, ok := content.(*goquery.Document)
	if !ok {
		return fmt.Errorf("%w: home content is %T", utils.ErrUnexpectedData, content)
	}
	home, err := extractHome(doc)
	if err != nil {
		return err
	}
	h.s.env.Log.WithFields(logrus.Fields{"kind": models.KindHome, "featured": len(home.FeaturedCategories),
		"sub_categories": len(home.SubCategories)}).Debug("Content extracted from /Guide")

	env := h.s.env
	title := env.ArchiveTitle()
	topTitle := homeTopTitles[env.Lang()]
	if topTitle == "" {
		topTitle = homeTopTitles["en"]
	}
	page, err := h.s.render(ctx, "home.html", HomePath, homePage{
		Lang:     env.Lang(),
		Metadata: env.Metadata,
		TopTitle: topTitle,
		Home:     home,
	})
	if err != nil {
		return err
	}
	if err := env.addHTML(HomePath, title, page); err != nil {
		return err
	}
	if err := env.Writer.AddRedirect(DefaultHomepage, HomePath); err != nil {
		return err
	}

	for _, p := range models.AllPlaceholders {
		page, err := h.s.render(ctx, "not_here.html", p.Path(), notHerePage{
			Lang:     env.Lang(),
			Metadata: env.Metadata,
			Kind:     p,
		})
		if err != nil {
			return err
		}
		if err := env.Writer.AddItem(archive.Item{
			Path:     p.Path(),
			Title:    title,
			Content:  page,
			Mimetype: "text/html",
		}); err != nil {
			return err
		}
	}
	return nil
}

func (h *HomeHandler) Redirect(ctx context.Context, item models.WorkItem[HomeData], target models.Placeholder) error {
	h.s.env.Log.WithField("kind", models.KindHome).Warnf("Not supposed to add a %s redirect for a home item", target)
	return nil
}

func extractHome(doc *goquery.Document) (*HomeContent, error) {
	home := &HomeContent{
		MainTitle: strings.TrimSpace(doc.Find("title").First().Text()),
	}
	var err error
	if home.PageTitle, err = uniqueText(doc.Selection, "h1.page-title span", "page"); err != nil {
		return nil, err
	}
	if home.PrimaryTitle, err = uniqueText(doc.Selection, "div.primary-divider p", "page"); err != nil {
		return nil, err
	}
	if home.SecondaryTitle, err = uniqueText(doc.Selection, "div.secondary-divider p", "page"); err != nil {
		return nil, err
	}

	callout, err := unique(doc.Selection, "div.page-callout-content", "page")
	if err != nil {
		return nil, err
	}
	if home.Callout.Content, err = goquery.OuterHtml(callout); err != nil {
		return nil, fmt.Errorf("%w: HTML of callout: %v", utils.ErrParsing, err)
	}
	if home.Callout.ImgURL, err = uniqueAttr(doc.Selection, "div.page-callout-inner img", "src", "callout"); err != nil {
		return nil, err
	}

	if home.FeaturedCategories, err = extractFeaturedCategories(doc); err != nil {
		return nil, err
	}
	if home.SubCategories, err = extractSubCategories(doc); err != nil {
		return nil, err
	}
	return home, nil
}

func extractFeaturedCategories(doc *goquery.Document) ([]FeaturedCategory, error) {
	const selector = "a.featured-category-item"
	var out []FeaturedCategory
	var err error
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var fc FeaturedCategory
		if fc.Text, err = uniqueText(s, "p.featured-category-title", "featured category"); err != nil {
			return false
		}
		if fc.ImgURL, err = uniqueAttr(s, "img", "src", "featured category"); err != nil {
			return false
		}
		if fc.Name, err = deviceName(s, "featured category"); err != nil {
			return false
		}
		if fc.Title, err = nonEmptyAttr(s, "title", "featured category"); err != nil {
			return false
		}
		out = append(out, fc)
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no featured categories found with selector '%s'", utils.ErrUnexpectedData, selector)
	}
	return out, nil
}

func extractSubCategories(doc *goquery.Document) ([]SubCategory, error) {
	const selector = "a.sub-category"
	var out []SubCategory
	var err error
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var sc SubCategory
		if sc.Text, err = uniqueText(s, "span.sub-category-title-text", "sub-category"); err != nil {
			return false
		}
		if sc.Name, err = deviceName(s, "sub-category"); err != nil {
			return false
		}
		var count string
		if count, err = uniqueText(s, "span.overflow-slide-in", "sub-category"); err != nil {
			return false
		}
		if sc.Count, err = strconv.Atoi(strings.TrimSpace(count)); err != nil {
			err = fmt.Errorf("%w: failed to convert span text '%s' to integer for sub-category", utils.ErrUnexpectedData, count)
			return false
		}
		if sc.Title, err = uniqueAttr(s, "span.overflow-slide-in", "title", "sub-category"); err != nil {
			return false
		}
		out = append(out, sc)
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no sub-categories found with selector '%s'", utils.ErrUnexpectedData, selector)
	}
	return out, nil
}

// unique returns the only element matching selector under s.
func unique(s *goquery.Selection, selector, where string) (*goquery.Selection, error) {
	found := s.Find(selector)
	switch found.Length() {
	case 0:
		return nil, fmt.Errorf("%w: nothing found in %s with selector '%s'", utils.ErrUnexpectedData, where, selector)
	case 1:
		return found, nil
	default:
		return nil, fmt.Errorf("%w: too many elements found in %s with selector '%s'", utils.ErrUnexpectedData, where, selector)
	}
}

func uniqueText(s *goquery.Selection, selector, where string) (string, error) {
	el, err := unique(s, selector, where)
	if err != nil {
		return "", err
	}
	text := el.Text()
	if text == "" {
		return "", fmt.Errorf("%w: empty text found in %s with selector '%s'", utils.ErrUnexpectedData, where, selector)
	}
	return text, nil
}

func uniqueAttr(s *goquery.Selection, selector, attr, where string) (string, error) {
	el, err := unique(s, selector, where)
	if err != nil {
		return "", err
	}
	return nonEmptyAttr(el, attr, where+" with selector '"+selector+"'")
}

func nonEmptyAttr(s *goquery.Selection, attr, where string) (string, error) {
	v, _ := s.Attr(attr)
	if v == "" {
		return "", fmt.Errorf("%w: empty %s found in %s", utils.ErrUnexpectedData, attr, where)
	}
	return v, nil
}

// deviceName extracts the category title from a /Device/ link.
func deviceName(s *goquery.Selection, where string) (string, error) {
	href, err := nonEmptyAttr(s, "href", where)
	if err != nil {
		return "", err
	}
	m := deviceHref.FindStringSubmatch(href)
	if m == nil || m[1] == "" {
		return "", fmt.Errorf("%w: extracting name from %s failed ; href:'%s'", utils.ErrUnexpectedData, where, href)
	}
	name := m[1]
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	return strings.ReplaceAll(name, "_", " "), nil
}
