package config

// Language describes one edition of the source website.
type Language struct {
	Code    string // ISO 639-1 code used in archive names and API langid
	English string // English name of the language
	MainURL string // Root URL of the localized website
}

// languages lists the supported editions. Order matters: category content
// lookups fall back through this list.
var languages = []Language{
	{Code: "en", English: "English", MainURL: "https://www.ifixit.com"},
	{Code: "fr", English: "French", MainURL: "https://fr.ifixit.com"},
	{Code: "pt", English: "Portuguese", MainURL: "https://pt.ifixit.com"},
	{Code: "de", English: "German", MainURL: "https://de.ifixit.com"},
	{Code: "ru", English: "Russian", MainURL: "https://ru.ifixit.com"},
	{Code: "ko", English: "Korean", MainURL: "https://ko.ifixit.com"},
	{Code: "zh", English: "Chinese", MainURL: "https://zh.ifixit.com"},
	{Code: "nl", English: "Dutch", MainURL: "https://nl.ifixit.com"},
	{Code: "ja", English: "Japanese", MainURL: "https://jp.ifixit.com"},
	{Code: "tr", English: "Turkish", MainURL: "https://tr.ifixit.com"},
	{Code: "es", English: "Spanish", MainURL: "https://es.ifixit.com"},
	{Code: "it", English: "Italian", MainURL: "https://it.ifixit.com"},
}

// Languages returns the supported editions in fallback order.
func Languages() []Language {
	out := make([]Language, len(languages))
	copy(out, languages)
	return out
}

// LookupLanguage finds a supported edition by its code.
func LookupLanguage(code string) (Language, bool) {
	for _, l := range languages {
		if l.Code == code {
			return l, true
		}
	}
	return Language{}, false
}

// LanguageCodes returns the codes of all supported editions in order.
func LanguageCodes() []string {
	codes := make([]string, 0, len(languages))
	for _, l := range languages {
		codes = append(codes, l.Code)
	}
	return codes
}
