package scrape

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openzim/ifixit/pkg/config"
	"github.com/openzim/ifixit/pkg/models"
)

func TestCategory_BuildExpectedFromTree(t *testing.T) {
	e := newTestScraper(t, nil)
	e.addAPI("/categories", url.Values{"includeStubs": {"True"}},
		`{"Phone":{"iPhone":{"iPhone 4":null,"iPhone 5":null}},"Mac":null}`)

	f := e.scraper.Categories.Frontier()
	require.NoError(t, f.BuildExpectedItems(context.Background()))
	assert.Equal(t, 5, f.Stats().Expected)
	for _, key := range []string{"phone", "iphone", "iphone_4", "iphone_5", "mac"} {
		assert.NotEqual(t, models.ItemStateUnset, f.State(key), key)
	}
}

func TestCategory_LinkScope(t *testing.T) {
	tests := []struct {
		name   string
		cfg    *config.AppConfig
		title  string
		want   string
		queued bool
	}{
		{"everything", nil, "iPhone 4", "Device/iPhone%204", true},
		{"in allow-list", &config.AppConfig{Categories: []string{"iphone 4"}}, "iPhone 4", "Device/iPhone%204", true},
		{"outside allow-list", &config.AppConfig{Categories: []string{"Mac"}}, "iPhone 4", "home/not_scrapped?url=Device/iPhone%204", false},
		{"disabled", &config.AppConfig{NoCategory: true}, "iPhone 4", "home/not_scrapped?url=Device/iPhone%204", false},
		{"slash in title", nil, "AC/DC", "Device/AC%20DC", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestScraper(t, tt.cfg)
			link, err := e.scraper.Categories.LinkFromProps(context.Background(), tt.title)
			require.NoError(t, err)
			assert.Equal(t, tt.want, link)
			assert.Equal(t, tt.queued, e.scraper.Categories.Frontier().State(categoryKey(tt.title)) != models.ItemStateUnset)
		})
	}
}

func TestCategory_ContentFallback(t *testing.T) {
	t.Run("configured language", func(t *testing.T) {
		e := newTestScraper(t, &config.AppConfig{Language: "fr"})
		e.addAPI("/wikis/CATEGORY/mac", lang("fr"), `{"title":"Mac","revisionid":3}`)
		content, err := e.scraper.Categories.Content(context.Background(), models.WorkItem[CategoryData]{Key: "mac"})
		require.NoError(t, err)
		require.NotNil(t, content)
		assert.False(t, e.source.called(apiKey("/wikis/CATEGORY/mac", lang("en"))))
	})

	t.Run("revision zero falls back", func(t *testing.T) {
		e := newTestScraper(t, &config.AppConfig{Language: "fr"})
		e.addAPI("/wikis/CATEGORY/mac", lang("fr"), `{"title":"Mac","revisionid":0}`)
		e.addAPI("/wikis/CATEGORY/mac", lang("pt"), `{"title":"Mac","revisionid":9}`)
		content, err := e.scraper.Categories.Content(context.Background(), models.WorkItem[CategoryData]{Key: "mac"})
		require.NoError(t, err)
		require.IsType(t, &Category{}, content)
		assert.EqualValues(t, 9, content.(*Category).RevisionID)
		assert.True(t, e.source.called(apiKey("/wikis/CATEGORY/mac", lang("en"))))
	})

	t.Run("null category", func(t *testing.T) {
		e := newTestScraper(t, nil)
		content, err := e.scraper.Categories.Content(context.Background(), models.WorkItem[CategoryData]{Key: "ghost"})
		require.NoError(t, err)
		assert.Nil(t, content)
		assert.Equal(t, []string{"ghost"}, e.scraper.env.NullCategories())
		for _, l := range config.LanguageCodes() {
			assert.True(t, e.source.called(apiKey("/wikis/CATEGORY/ghost", lang(l))), l)
		}
	})
}

func TestCategory_ScrapeDiscoversGuides(t *testing.T) {
	e := newTestScraper(t, &config.AppConfig{Categories: []string{"iPhone 4"}})
	e.addAPI("/wikis/CATEGORY/iphone_4", lang("en"), `{
		"title":"iPhone 4","display_title":"iPhone 4","revisionid":1,
		"contents_rendered":"<p>See <a href=\"/Info/Battery_Safety\">safety</a></p>",
		"children":[{"title":"iPhone 4 CDMA","display_title":"iPhone 4 CDMA"}],
		"guides":[
			{"guideid":1,"title":"Battery","locale":"en"},
			{"guideid":2,"title":"Screen","locale":"en","flags":[{"flagid":"GUIDE_IN_PROGRESS"}]}
		]}`)

	f := e.scraper.Categories.Frontier()
	require.NoError(t, f.BuildExpectedItems(context.Background()))
	require.NoError(t, f.ScrapeItems(context.Background()))

	html := e.page(t, "Device/iPhone 4")
	assert.Contains(t, html, `href="../Guide/-/1"`)
	assert.Contains(t, html, `href="../Guide/-/2"`)
	assert.Contains(t, html, `href="../Info/Battery_Safety"`)
	// children outside the allow-list are not scraped
	assert.Contains(t, html, `home/not_scrapped?url=Device/iPhone%204%20CDMA`)

	guides := e.scraper.Guides.Frontier()
	assert.Equal(t, 2, guides.Stats().Total())
	assert.Equal(t, 2, guides.QueueLen())
	assert.NotEqual(t, models.ItemStateUnset, e.scraper.Infos.Frontier().State("battery_safety"))
}

func TestCategory_RedirectOnMissing(t *testing.T) {
	e := newTestScraper(t, &config.AppConfig{Categories: []string{"Ghost"}})
	f := e.scraper.Categories.Frontier()
	require.NoError(t, f.BuildExpectedItems(context.Background()))
	require.NoError(t, f.ScrapeItems(context.Background()))

	target, ok := e.writer.Redirect("Device/Ghost")
	require.True(t, ok)
	assert.Equal(t, "home/missing?url=Device%2FGhost", target)
	assert.Equal(t, []string{"ghost"}, f.MissingKeys())
}
