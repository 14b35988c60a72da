// Package scrape implements the entity kinds of the website: how each one
// is listed, fetched, validated, rendered and linked to.
package scrape

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/openzim/ifixit/pkg/archive"
	"github.com/openzim/ifixit/pkg/assets"
	"github.com/openzim/ifixit/pkg/config"
	"github.com/openzim/ifixit/pkg/models"
	"github.com/openzim/ifixit/pkg/rewrite"
	"github.com/openzim/ifixit/pkg/utils"
)

// Source is what handlers need from the website.
type Source interface {
	Fetch(ctx context.Context, path string, params url.Values) (string, []string, error)
	FetchJSON(ctx context.Context, apiPath string, params url.Values, out any) (bool, error)
}

// Env carries the dependencies shared by every handler.
type Env struct {
	Config   *config.AppConfig
	MainURL  string
	Source   Source
	Canon    *rewrite.Canonicalizer
	Rewriter *rewrite.Rewriter
	Assets   rewrite.AssetDeferrer
	Writer   archive.Writer
	Renderer *Renderer
	Metadata *Metadata
	Log      *logrus.Entry

	mu             sync.Mutex
	nullCategories map[string]struct{}
}

// Lang returns the configured language code.
func (e *Env) Lang() string { return e.Config.Language }

// sitePath returns the archive path of a website path: the path it
// redirects to, without leading slash.
func (e *Env) sitePath(ctx context.Context, path string) string {
	return e.Canon.Path(ctx, e.MainURL+path)
}

// relPrefix walks from an archive path back to the archive root.
func relPrefix(path string) string {
	return strings.Repeat("../", strings.Count(path, "/"))
}

func (e *Env) addHTML(path, title string, content []byte) error {
	e.Log.WithField("path", path).Debug("Adding page to archive")
	return e.Writer.AddItem(archive.Item{
		Path:     path,
		Title:    title,
		Content:  content,
		Mimetype: "text/html",
		IsFront:  true,
	})
}

// redirectToPlaceholder points path at a placeholder page carrying path in
// its query string.
func (e *Env) redirectToPlaceholder(path string, p models.Placeholder) error {
	target := p.Path() + "?" + url.Values{"url": {path}}.Encode()
	e.Log.WithFields(logrus.Fields{"path": path, "target": target}).Debug("Adding redirect to archive")
	return e.Writer.AddRedirect(path, target)
}

// notScrapped links to the placeholder of content excluded from the run.
func notScrapped(quotedPath string) string {
	return models.PlaceholderNotScrapped.Path() + "?url=" + quotedPath
}

// imagePath schedules an image and returns its archive path relative to
// rel. Images that cannot be scheduled point at the generic placeholder.
func (e *Env) imagePath(rawURL, rel string) string {
	path, ok := e.Assets.Defer(rawURL)
	if !ok {
		path = assets.PlaceholderImagePath
	}
	return rel + utils.QuotePath(path)
}

func (e *Env) addNullCategory(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.nullCategories == nil {
		e.nullCategories = make(map[string]struct{})
	}
	e.nullCategories[key] = struct{}{}
}

// NullCategories returns the sorted keys of categories without content in
// any language.
func (e *Env) NullCategories() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.nullCategories))
	for k := range e.nullCategories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func containsKey(list []string, key string, toKey func(string) string) bool {
	for _, v := range list {
		if toKey(v) == key {
			return true
		}
	}
	return false
}

// ArchiveTitle is the configured archive title, or the website's own.
func (e *Env) ArchiveTitle() string {
	if e.Config.Archive.Title != "" {
		return e.Config.Archive.Title
	}
	if e.Metadata != nil {
		return e.Metadata.Title
	}
	return ""
}
