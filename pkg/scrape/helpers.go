package scrape

import (
	"time"
)

// imageURL picks the best rendition of img, or fallback when there is none.
func imageURL(img *Image, fallback string) string {
	if img != nil {
		for _, u := range []string{img.Standard, img.Medium, img.Large, img.Original} {
			if u != "" {
				return u
			}
		}
	}
	return fallback
}

func guideImageURL(img *Image) string  { return imageURL(img, DefaultGuideImageURL) }
func deviceImageURL(img *Image) string { return imageURL(img, DefaultDeviceImageURL) }
func wikiImageURL(img *Image) string   { return imageURL(img, DefaultWikiImageURL) }
func userImageURL(u User) string       { return imageURL(u.Image, AvatarURL(u.UserID)) }

// commentsCount counts comments and their replies.
func commentsCount(comments []Comment) int {
	total := 0
	for _, c := range comments {
		total += 1 + len(c.Replies)
	}
	return total
}

// guideCommentsCount counts the comments of a guide and of all its steps.
func guideCommentsCount(g *Guide) int {
	total := commentsCount(g.Comments)
	for _, step := range g.Steps {
		total += commentsCount(step.Comments)
	}
	return total
}

// guidesInProgress filters guides on the in-progress flag.
func guidesInProgress(guides []GuideRef, inProgress bool) []GuideRef {
	var out []GuideRef
	for _, g := range guides {
		if hasFlag(g.Flags, "GUIDE_IN_PROGRESS") == inProgress {
			out = append(out, g)
		}
	}
	return out
}

func categoryCountParts(c *Category) int {
	if c.Parts == nil {
		return 0
	}
	return c.Parts.Total
}

func categoryCountTools(c *Category) int { return len(c.Tools) }

// timestampDay renders a unix timestamp as a UTC day, empty for zero.
func timestampDay(ts float64) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(int64(ts), 0).UTC().Format("02/01/2006")
}

// userDisplayName returns the name shown for a user.
func userDisplayName(u User) string {
	if u.Username != "" {
		return u.Username
	}
	if u.UniqueUsername != "" {
		return "@" + u.UniqueUsername
	}
	return "Anonymous"
}
