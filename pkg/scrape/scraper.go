package scrape

import (
	"context"
	"html/template"

	"github.com/openzim/ifixit/pkg/frontier"
	"github.com/openzim/ifixit/pkg/rewrite"
)

// Scraper owns one handler and one frontier per kind, and links them: the
// templates of a kind render links to the others, registering what they
// find.
type Scraper struct {
	env *Env

	Home       *HomeHandler
	Categories *CategoryHandler
	Guides     *GuideHandler
	Infos      *InfoHandler
	Users      *UserHandler
}

// New builds the handlers and frontiers and registers the handlers as
// the rewriter's resolvers.
func New(env *Env, opts frontier.Options) *Scraper {
	s := &Scraper{env: env}

	s.Home = &HomeHandler{s: s}
	s.Home.frontier = frontier.New[HomeData](s.Home, opts, env.Log)

	s.Categories = &CategoryHandler{s: s}
	s.Categories.frontier = frontier.New[CategoryData](s.Categories, opts, env.Log)

	s.Guides = &GuideHandler{s: s}
	s.Guides.frontier = frontier.New[GuideData](s.Guides, opts, env.Log)

	s.Infos = &InfoHandler{s: s}
	s.Infos.frontier = frontier.New[InfoData](s.Infos, opts, env.Log)

	userOpts := opts
	userOpts.QuietDiscovery = true
	s.Users = &UserHandler{s: s, titles: make(map[string][]string)}
	s.Users.frontier = frontier.New[UserData](s.Users, userOpts, env.Log)

	env.Rewriter.Register(rewrite.RefCategory, s.Categories)
	env.Rewriter.Register(rewrite.RefGuide, s.Guides)
	env.Rewriter.Register(rewrite.RefInfo, s.Infos)
	env.Rewriter.Register(rewrite.RefUser, s.Users)
	return s
}

// Frontiers returns the frontiers in scraping order.
func (s *Scraper) Frontiers() []frontier.Runner {
	return []frontier.Runner{
		s.Home.frontier,
		s.Categories.frontier,
		s.Guides.frontier,
		s.Infos.frontier,
		s.Users.frontier,
	}
}

// render executes a page template for the page written at path.
func (s *Scraper) render(ctx context.Context, name, path string, data any) ([]byte, error) {
	return s.env.Renderer.Render(name, s.pageFuncs(ctx, relPrefix(path)), data)
}

func (s *Scraper) pageFuncs(ctx context.Context, rel string) template.FuncMap {
	return template.FuncMap{
		"rel": func() string { return rel },
		"clean": func(content string) (template.HTML, error) {
			out, err := s.env.Rewriter.Rewrite(ctx, content, rel)
			return template.HTML(out), err
		},
		"image": func(rawURL string) string {
			return s.env.imagePath(rawURL, rel)
		},
		"categoryLink": func(c WikiRef) (string, error) {
			return s.Categories.LinkFromObject(ctx, c)
		},
		"categoryTitleLink": func(title string) (string, error) {
			return s.Categories.LinkFromProps(ctx, title)
		},
		"guideLink": func(g GuideRef) (string, error) {
			return s.Guides.LinkFromObject(ctx, g)
		},
		"infoLink": func(w WikiRef) (string, error) {
			return s.Infos.LinkFromObject(ctx, w)
		},
		"userLink": func(u User) (string, error) {
			return s.Users.LinkFromObject(ctx, u)
		},
	}
}
