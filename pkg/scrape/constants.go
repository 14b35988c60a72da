package scrape

import "fmt"

const (
	UnknownLocale   = "unknown"
	UnknownTitle    = "unknown_title"
	DefaultHomepage = "Main-Page"
	HomeKey         = "1"
	HomePath        = "home/home"

	listingPageSize = 200
)

const (
	DefaultGuideImageURL  = "https://assets.cdn.ifixit.com/static/images/default_images/GuideNoImage_300x225.jpg"
	DefaultDeviceImageURL = "https://assets.cdn.ifixit.com/static/images/default_images/DeviceNoImage_300x225.jpg"
	DefaultWikiImageURL   = "https://assets.cdn.ifixit.com/static/images/default_images/WikiNoImage_300x225.jpg"
)

const avatarCount = 12

// AvatarURL returns the generic avatar of a user without picture.
func AvatarURL(userID int) string {
	idx := userID % avatarCount
	if idx < 0 {
		idx += avatarCount
	}
	return fmt.Sprintf("https://assets.cdn.ifixit.com/static/images/avatars/User/ifixit/avatar-%d.standard", idx+1)
}

// Difficulty labels as returned by the API in every language, by level.
var difficultyLevels = [][]string{
	{"Very easy", "Muito fácil", "Très facile", "Sehr einfach", "Muy fácil", "Molto facile", "Çok kolay", "とても簡単", "Zeer eenvoudig", "Очень просто", "아주 쉬움", "非常容易"},
	{"Easy", "Fácil", "Facile", "Einfach", "Fácil", "Facile", "Kolay", "簡単", "Eenvoudig", "Просто", "쉬움", "简单"},
	{"Moderate", "Moderado", "Modérée", "Mittel", "Moderado", "Moderato", "Orta", "普通", "Gemiddeld", "Средняя", "보통", "中等"},
	{"Difficult", "Difícil", "Difficile", "Schwierig", "Difícil", "Difficile", "Zor", "難しい", "Moeilijk", "Сложно", "어려움", "困难"},
	{"Very difficult", "Muito difícil", "Très difficile", "Sehr schwierig", "Muy difícil", "Molto difficile", "Çok zor", "とても難しい", "Zeer moeilijk", "Очень сложно", "매우 어려움", "非常困难"},
}

// difficultyClass maps an API difficulty label to its CSS class.
func difficultyClass(label string) (string, bool) {
	for i, level := range difficultyLevels {
		for _, l := range level {
			if l == label {
				return fmt.Sprintf("difficulty-%d", i+1), true
			}
		}
	}
	return "", false
}

var knownBullets = map[string]bool{
	"black": true, "red": true, "orange": true, "yellow": true, "green": true,
	"blue": true, "light_blue": true, "violet": true,
	"icon_note": true, "icon_caution": true, "icon_reminder": true,
}

var homeTopTitles = map[string]string{
	"en": "Repair guides for every thing, written by everyone.",
	"fr": "Tutoriels de réparation pour tout, écrits par tous.",
	"pt": "Guias de reparo para tudo, escritos por todos.",
	"de": "Reparaturanleitungen für alles, geschrieben von allen.",
	"ko": "모두가 작성한, 모든 것을 수리하는 안내서.",
	"zh": "大家齐心协力写出的包罗万象的免费修理指南。",
	"ru": "Руководства по ремонту всего, от всех.",
	"nl": "Reparatiehandleidingen voor alles, door iedereen.",
	"ja": "修理を愛する人たちが作った、あらゆるモノへの修理ガイド",
	"tr": "Herkes tarafindan, her şey için yazilmiş tamir kilavuzlari.",
	"es": "Guías de reparación para todo, escritas por todos.",
	"it": "Guide di riparazione per ogni cosa, scritte da tutti.",
}

type labelSet map[string]string

var categoryLabels = map[string]labelSet{
	"en": {
		"author":             "Author: ",
		"categories_before":  "",
		"categories_after":   " Categories",
		"featured_guides":    "Featured Guides",
		"related_pages":      "Related Pages",
		"in_progress_guides": "In Progress Guides",
		"technique_guides":   "Techniques",
		"replacement_guides": "Replacement Guides",
		"teardown_guides":    "Teardowns",
		"disassembly_guides": "Disassembly Guides",
		"tools":              "Tools",
		"parts":              "Parts",
		"tools_introduction": "These are some common tools used to work on this device. You might not need every tool for every procedure.",
	},
	"fr": {
		"author":             "Auteur: ",
		"categories_before":  "",
		"categories_after":   " catégories",
		"featured_guides":    "Tutoriels à la une",
		"related_pages":      "Pages connexes",
		"in_progress_guides": "Tutoriels en cours",
		"technique_guides":   "Techniques",
		"replacement_guides": "Tutoriels de remplacement",
		"teardown_guides":    "Vues éclatées",
		"disassembly_guides": "Tutoriels de démontage",
		"tools":              "Outils",
		"parts":              "Pièces",
		"tools_introduction": "Voici quelques outils couramment utilisés pour travailler sur cet appareil.",
	},
}

var guideLabels = map[string]labelSet{
	"en": {
		"written_by":            "Written By:",
		"difficulty":            "Difficulty",
		"steps":                 "Steps",
		"time_required":         " Time Required",
		"introduction":          "Introduction",
		"step_no_before":        "Step ",
		"step_no_after":         "",
		"conclusion":            "Conclusion",
		"author":                "Author",
		"reputation":            "Reputation",
		"member_since_before":   "Member since: ",
		"member_since_after":    "",
		"published":             "Published: ",
		"teardown":              "Teardown",
		"comments_count_before": "",
		"comments_count_after":  " comments",
		"comments_count_one":    "One comment",
		"tools":                 "Tools",
		"parts":                 "Parts",
	},
	"fr": {
		"written_by":            "Rédigé par :",
		"difficulty":            "Difficulté",
		"steps":                 "Étapes",
		"time_required":         "Temps nécessaire",
		"introduction":          "Introduction",
		"step_no_before":        "Étape ",
		"step_no_after":         "",
		"conclusion":            "Conclusion",
		"author":                "Auteur",
		"reputation":            "Réputation",
		"member_since_before":   "Membre depuis : ",
		"member_since_after":    "",
		"published":             "Publication : ",
		"teardown":              "Vue éclatée",
		"comments_count_before": "",
		"comments_count_after":  " commentaires",
		"comments_count_one":    "Un commentaire",
		"tools":                 "Outils",
		"parts":                 "Pièces",
	},
}

var userLabels = map[string]labelSet{
	"en": {"reputation": "Reputation", "member_since": "Member Since ", "member_since_after": ""},
	"fr": {"reputation": "Réputation", "member_since": "Membre depuis ", "member_since_after": ""},
	"pt": {"reputation": "Reputação", "member_since": "Membro desde ", "member_since_after": ""},
	"de": {"reputation": "Reputation", "member_since": "Mitglied seit ", "member_since_after": ""},
}

// labelsFor returns the labels of lang, English ones filling the gaps.
func labelsFor(table map[string]labelSet, lang string) labelSet {
	out := make(labelSet, len(table["en"]))
	for k, v := range table["en"] {
		out[k] = v
	}
	for k, v := range table[lang] {
		out[k] = v
	}
	return out
}
