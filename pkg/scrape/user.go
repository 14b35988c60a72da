package scrape

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/openzim/ifixit/pkg/frontier"
	"github.com/openzim/ifixit/pkg/models"
	"github.com/openzim/ifixit/pkg/rewrite"
	"github.com/openzim/ifixit/pkg/utils"
)

// UserData is what the frontier keeps about a user.
type UserData struct {
	ID    string
	Title string
}

// UserHandler scrapes the profiles of users met while scraping other
// kinds. Users are never listed: the full list is mostly people who never
// contributed anything.
type UserHandler struct {
	s        *Scraper
	frontier *frontier.Frontier[UserData]

	mu     sync.Mutex
	titles map[string][]string // every title a user was linked with
}

type userPage struct {
	Lang     string
	Metadata *Metadata
	Labels   labelSet
	User     *User
}

func (h *UserHandler) Kind() models.Kind { return models.KindUser }

// Frontier returns the user frontier.
func (h *UserHandler) Frontier() *frontier.Frontier[UserData] { return h.frontier }

func (h *UserHandler) path(ctx context.Context, id, title string) string {
	return h.s.env.sitePath(ctx, "/User/"+id+"/"+strings.ReplaceAll(title, "/", " "))
}

func (h *UserHandler) add(f *frontier.Frontier[UserData], id, title string, expected bool) {
	f.AddItem(id, UserData{ID: id, Title: title}, expected)
	h.mu.Lock()
	h.titles[id] = append(h.titles[id], title)
	h.mu.Unlock()
}

// Titles returns the titles a user has been linked with so far.
func (h *UserHandler) Titles(id string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.titles[id])
}

// LinkFromObject returns the link to a user met in a payload.
func (h *UserHandler) LinkFromObject(ctx context.Context, u User) (string, error) {
	if u.UserID == 0 {
		return "", fmt.Errorf("%w: user without id", utils.ErrUnexpectedData)
	}
	id := strconv.Itoa(u.UserID)
	title := u.Username
	if title == "" {
		title = "User"
	}
	h.frontier.UpdateExpected(id, func(d *UserData) {
		if d.Title == UnknownTitle {
			d.Title = title
		}
	})
	return h.LinkFromProps(ctx, id, title)
}

// LinkFromProps returns the archive link of a user profile, registering
// it when it is in scope.
func (h *UserHandler) LinkFromProps(ctx context.Context, id, title string) (string, error) {
	cfg := h.s.env.Config
	quoted := utils.QuotePath(h.path(ctx, id, title))
	if cfg.NoUser {
		return notScrapped(quoted), nil
	}
	if len(cfg.Users) > 0 && !slices.Contains(cfg.Users, id) {
		return notScrapped(quoted), nil
	}
	h.add(h.frontier, id, title, false)
	return quoted, nil
}

// Resolve implements rewrite.Resolver for user links.
func (h *UserHandler) Resolve(ctx context.Context, ref rewrite.Reference) (string, error) {
	return h.LinkFromProps(ctx, ref.ID, ref.Title)
}

func (h *UserHandler) BuildExpected(ctx context.Context, f *frontier.Frontier[UserData]) error {
	cfg := h.s.env.Config
	log := h.s.env.Log.WithField("kind", models.KindUser)
	if cfg.NoUser {
		log.Info("No user required")
		return nil
	}
	if len(cfg.Users) > 0 {
		log.Info("Adding required users as expected")
		for _, id := range cfg.Users {
			h.add(f, id, UnknownTitle, true)
		}
	}
	return nil
}

func (h *UserHandler) Content(ctx context.Context, item models.WorkItem[UserData]) (any, error) {
	var u User
	found, err := h.s.env.Source.FetchJSON(ctx, "/users/"+item.Key, nil, &u)
	if err != nil || !found {
		return nil, err
	}
	return &u, nil
}

func (h *UserHandler) Process(ctx context.Context, item models.WorkItem[UserData], content any) error {
	u, ok := content.(*User)
	if !ok {
		return fmt.Errorf("%w: user content is %T", utils.ErrUnexpectedData, content)
	}
	username := u.Username
	if username == "" {
		username = "User"
	}
	normalPath := h.path(ctx, strconv.Itoa(u.UserID), username)
	page, err := h.s.render(ctx, "user.html", normalPath, userPage{
		Lang:     h.s.env.Lang(),
		Metadata: h.s.env.Metadata,
		Labels:   labelsFor(userLabels, h.s.env.Lang()),
		User:     u,
	})
	if err != nil {
		return err
	}
	if err := h.s.env.addHTML(normalPath, username, page); err != nil {
		return err
	}

	seen := map[string]bool{normalPath: true}
	for _, title := range h.Titles(item.Key) {
		if title == UnknownTitle || title == item.Data.Title {
			continue
		}
		alternate := h.path(ctx, item.Key, title)
		if seen[alternate] {
			continue
		}
		seen[alternate] = true
		h.s.env.Log.WithFields(logrus.Fields{"kind": models.KindUser, "path": alternate, "target": normalPath}).
			Debug("Adding redirect for alternate user path")
		if err := h.s.env.Writer.AddRedirect(alternate, normalPath); err != nil {
			return err
		}
	}
	return nil
}

func (h *UserHandler) Redirect(ctx context.Context, item models.WorkItem[UserData], target models.Placeholder) error {
	if item.Data.Title == UnknownTitle {
		h.s.env.Log.WithFields(logrus.Fields{"kind": models.KindUser, "key": item.Key}).
			Warnf("Cannot add %s redirect for user with unknown title", target)
		return nil
	}
	return h.s.env.redirectToPlaceholder(h.path(ctx, item.Data.ID, item.Data.Title), target)
}
