package domain

// LocalizedText maps BCP 47 language tags to translated strings.
type LocalizedText map[string]string

// Resolve returns the translation for lang, falling back to English, then any
// available translation, then the provided placeholder.
func (t LocalizedText) Resolve(lang, placeholder string) string {
	if len(t) == 0 {
		return placeholder
	}
	if value, ok := t[lang]; ok && value != "" {
		return value
	}
	if value, ok := t["en"]; ok && value != "" {
		return value
	}
	for _, value := range t {
		if value != "" {
			return value
		}
	}
	return placeholder
}
