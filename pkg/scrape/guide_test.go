package scrape

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openzim/ifixit/pkg/config"
	"github.com/openzim/ifixit/pkg/models"
	"github.com/openzim/ifixit/pkg/utils"
)

func TestValidateGuide(t *testing.T) {
	step := func(media string, bullet string) string {
		return `{"stepid":1,"media":` + media + `,"lines":[{"bullet":"` + bullet + `","level":0}]}`
	}
	tests := []struct {
		name    string
		guide   string
		wantErr bool
		check   func(t *testing.T, g *Guide)
	}{
		{
			name:  "image step",
			guide: `{"guideid":1,"difficulty":"Easy","steps":[` + step(`{"type":"image","data":[{"standard":"https://x/a.jpg"}]}`, "black") + `]}`,
			check: func(t *testing.T, g *Guide) {
				assert.Equal(t, "difficulty-2", g.DifficultyClass)
				require.Len(t, g.Steps[0].Images, 1)
				assert.Equal(t, "https://x/a.jpg", g.Steps[0].Images[0].Standard)
			},
		},
		{
			name:  "localized difficulty",
			guide: `{"guideid":1,"difficulty":"Très difficile","steps":[]}`,
			check: func(t *testing.T, g *Guide) { assert.Equal(t, "difficulty-5", g.DifficultyClass) },
		},
		{
			name:  "teardown has no difficulty",
			guide: `{"guideid":1,"type":"teardown","difficulty":"","steps":[]}`,
			check: func(t *testing.T, g *Guide) { assert.Empty(t, g.DifficultyClass) },
		},
		{
			name:  "video step",
			guide: `{"guideid":1,"difficulty":"Easy","steps":[` + step(`{"type":"video","data":{"image":{"image":{"standard":"https://x/v.jpg"}}}}`, "icon_note") + `]}`,
			check: func(t *testing.T, g *Guide) {
				require.NotNil(t, g.Steps[0].VideoImage)
				assert.Equal(t, "https://x/v.jpg", g.Steps[0].VideoImage.Standard)
			},
		},
		{
			name:  "embed step",
			guide: `{"guideid":1,"difficulty":"Easy","steps":[` + step(`{"type":"embed","data":{"html":"<iframe></iframe>"}}`, "red") + `]}`,
			check: func(t *testing.T, g *Guide) { assert.Equal(t, "<iframe></iframe>", g.Steps[0].EmbedHTML) },
		},
		{name: "unknown difficulty", guide: `{"guideid":1,"difficulty":"Trivial","steps":[]}`, wantErr: true},
		{name: "step without media", guide: `{"guideid":1,"difficulty":"Easy","steps":[{"stepid":1,"lines":[]}]}`, wantErr: true},
		{name: "unknown media type", guide: `{"guideid":1,"difficulty":"Easy","steps":[` + step(`{"type":"gif","data":{}}`, "black") + `]}`, wantErr: true},
		{name: "video without inner image", guide: `{"guideid":1,"difficulty":"Easy","steps":[` + step(`{"type":"video","data":{"image":{}}}`, "black") + `]}`, wantErr: true},
		{name: "video without data", guide: `{"guideid":1,"difficulty":"Easy","steps":[` + step(`{"type":"video"}`, "black") + `]}`, wantErr: true},
		{name: "embed without html", guide: `{"guideid":1,"difficulty":"Easy","steps":[` + step(`{"type":"embed","data":{"width":3}}`, "black") + `]}`, wantErr: true},
		{name: "unknown bullet", guide: `{"guideid":1,"difficulty":"Easy","steps":[` + step(`{"type":"image","data":[]}`, "purple") + `]}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var g Guide
			require.NoError(t, json.Unmarshal([]byte(tt.guide), &g))
			err := validateGuide(&g)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, utils.ErrUnexpectedData)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, &g)
			}
		})
	}
}

func TestGuide_LinkFromObjectUpdatesExpected(t *testing.T) {
	e := newTestScraper(t, &config.AppConfig{Guides: []string{"42"}})
	h := e.scraper.Guides
	require.NoError(t, h.Frontier().BuildExpectedItems(context.Background()))

	data, ok := h.Frontier().Data("42")
	require.True(t, ok)
	assert.Equal(t, UnknownLocale, data.Locale)
	assert.Equal(t, UnknownTitle, data.Title)

	link, err := h.LinkFromObject(context.Background(), GuideRef{GuideID: 42, Title: "Battery", Locale: "fr"})
	require.NoError(t, err)
	assert.Equal(t, "Guide/-/42", link)

	data, _ = h.Frontier().Data("42")
	assert.Equal(t, GuideData{ID: 42, Title: "Battery", Locale: "fr"}, data)

	_, err = h.LinkFromObject(context.Background(), GuideRef{GuideID: 43, Locale: "en"})
	assert.ErrorIs(t, err, utils.ErrUnexpectedData)
}

func TestGuide_LinkOutsideSelection(t *testing.T) {
	e := newTestScraper(t, &config.AppConfig{Guides: []string{"1"}})
	link, err := e.scraper.Guides.LinkFromProps(context.Background(), 2, "Other", "en")
	require.NoError(t, err)
	assert.Equal(t, "home/not_scrapped?url=Guide/-/2", link)
	assert.Equal(t, models.ItemStateUnset, e.scraper.Guides.Frontier().State("2"))

	e = newTestScraper(t, &config.AppConfig{NoGuide: true})
	link, err = e.scraper.Guides.LinkFromProps(context.Background(), 1, "Other", "en")
	require.NoError(t, err)
	assert.Equal(t, "home/not_scrapped?url=Guide/-/1", link)
}

func TestGuide_BuildExpectedBadAllowList(t *testing.T) {
	e := newTestScraper(t, &config.AppConfig{Guides: []string{"12", "abc"}})
	err := e.scraper.Guides.Frontier().BuildExpectedItems(context.Background())
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
}

func TestGuide_BuildExpectedListing(t *testing.T) {
	page := func(offset string) url.Values {
		return url.Values{"limit": {"200"}, "offset": {offset}}
	}
	tests := []struct {
		name       string
		firstItems bool
		want       []string
	}{
		{"all pages", false, []string{"1", "3", "4"}},
		{"first page only", true, []string{"1", "3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestScraper(t, &config.AppConfig{ScrapeOnlyFirstItems: tt.firstItems})
			e.addAPI("/guides", page("0"), `[{"guideid":1,"revisionid":5},{"guideid":2,"flags":["GUIDE_ARCHIVED"]},{"guideid":3}]`)
			e.addAPI("/guides", page("200"), `[{"guideid":4}]`)
			e.addAPI("/guides", page("400"), `[]`)

			f := e.scraper.Guides.Frontier()
			require.NoError(t, f.BuildExpectedItems(context.Background()))
			assert.Equal(t, len(tt.want), f.Stats().Expected)
			for _, key := range tt.want {
				assert.NotEqual(t, models.ItemStateUnset, f.State(key), key)
			}
			assert.Equal(t, models.ItemStateUnset, f.State("2"))
		})
	}
}

func TestGuide_ContentLocale(t *testing.T) {
	tests := []struct {
		name     string
		language string
		locale   string
		payloads map[string]string
		found    bool
	}{
		{"unknown locale uses configured language", "fr", UnknownLocale, map[string]string{"fr": guideJSON(1, "Batterie")}, true},
		{"ja is jp for the API", "en", "ja", map[string]string{"jp": guideJSON(1, "バッテリー")}, true},
		{"falls back to en", "de", "de", map[string]string{"en": guideJSON(1, "Battery")}, true},
		{"not found anywhere", "de", "de", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestScraper(t, &config.AppConfig{Language: tt.language})
			for l, body := range tt.payloads {
				e.addAPI("/guides/1", lang(l), body)
			}
			content, err := e.scraper.Guides.Content(context.Background(),
				models.WorkItem[GuideData]{Key: "1", Data: GuideData{ID: 1, Locale: tt.locale}})
			require.NoError(t, err)
			if !tt.found {
				assert.Nil(t, content)
				return
			}
			require.IsType(t, &Guide{}, content)
			assert.Equal(t, 1, content.(*Guide).GuideID)
		})
	}
}

func TestGuide_ScrapeWritesPageAndDiscovers(t *testing.T) {
	e := newTestScraper(t, &config.AppConfig{Guides: []string{"1"}})
	e.addAPI("/guides/1", lang("en"), guideJSON(1, "Battery Replacement"))

	f := e.scraper.Guides.Frontier()
	require.NoError(t, f.BuildExpectedItems(context.Background()))
	require.NoError(t, f.ScrapeItems(context.Background()))

	html := e.page(t, "Guide/-/1")
	assert.Contains(t, html, "Battery Replacement")
	assert.Contains(t, html, `href="../../User/7/Walter"`)
	assert.Contains(t, html, `href="../../Device/iPhone%204"`)
	assert.Contains(t, html, `src="../../assets/guide-images.cdn.ifixit.com/step.standard"`)
	assert.Contains(t, html, "difficulty-3")
	assert.True(t, e.assets.deferred["https://guide-images.cdn.ifixit.com/step.standard"])

	// the inline link points at a guide outside of the selection
	assert.Contains(t, html, "home/not_scrapped?url=Guide/-/99")
	assert.NotEqual(t, models.ItemStateUnset, e.scraper.Users.Frontier().State("7"))
	assert.Equal(t, models.ItemStateDone, f.State("1"))
}

func TestGuide_MissingRedirect(t *testing.T) {
	e := newTestScraper(t, nil)
	f := e.scraper.Guides.Frontier()
	f.AddItem("5", GuideData{ID: 5, Title: "Screen", Locale: "en"}, false)
	f.AddItem("6", GuideData{ID: 6, Title: UnknownTitle, Locale: UnknownLocale}, true)
	require.NoError(t, f.ScrapeItems(context.Background()))

	target, ok := e.writer.Redirect("Guide/-/5")
	require.True(t, ok)
	assert.Equal(t, "home/missing?url=Guide%2F-%2F5", target)

	// no redirect without a title, the item still counts as missing
	_, ok = e.writer.Redirect("Guide/-/6")
	assert.False(t, ok)
	assert.Equal(t, 2, f.Stats().Missing)
}
