package scrape

import (
	"bytes"
	"embed"
	"errors"
	"html/template"

	"github.com/openzim/ifixit/pkg/utils"
)

//go:embed templates/*.html
var templateFS embed.FS

// Functions bound to the page being rendered; see Scraper.pageFuncs.
var pageFuncNames = []string{
	"rel", "clean", "image",
	"categoryLink", "categoryTitleLink", "guideLink", "infoLink", "userLink",
}

var errUnboundFunc = errors.New("template function used outside of a page render")

var staticFuncs = template.FuncMap{
	"guideImage":         guideImageURL,
	"deviceImage":        deviceImageURL,
	"wikiImage":          wikiImageURL,
	"userImage":          userImageURL,
	"commentsCount":      commentsCount,
	"guideCommentsCount": guideCommentsCount,
	"inProgress":         guidesInProgress,
	"countParts":         categoryCountParts,
	"countTools":         categoryCountTools,
	"day":                timestampDay,
	"displayName":        userDisplayName,
	"inc":                func(i int) int { return i + 1 },
}

// Renderer executes the embedded page templates.
type Renderer struct {
	base *template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	stubs := make(template.FuncMap, len(pageFuncNames))
	for _, name := range pageFuncNames {
		stubs[name] = func(...any) (string, error) { return "", errUnboundFunc }
	}
	base, err := template.New("pages").Funcs(staticFuncs).Funcs(stubs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, utils.WrapErrorf(err, "parsing page templates")
	}
	return &Renderer{base: base}, nil
}

// Render executes template name with funcs bound for this page.
func (r *Renderer) Render(name string, funcs template.FuncMap, data any) ([]byte, error) {
	t, err := r.base.Clone()
	if err != nil {
		return nil, utils.WrapErrorf(err, "cloning templates")
	}
	t.Funcs(funcs)

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, utils.WrapErrorf(err, "rendering %s", name)
	}
	return buf.Bytes(), nil
}
