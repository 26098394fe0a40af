package i18n

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var translations = make(map[string]map[string]string)
var DefaultLang = "en"

// Languages are the translation files LoadTranslations expects, as <lang>.json.
var Languages = []string{"en", "fr"}

func LoadTranslations(path string) error {
	for _, lang := range Languages {
		data, err := os.ReadFile(filepath.Join(path, lang+".json"))
		if err != nil {
			return err
		}
		var t map[string]string
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("parse %s translations: %w", lang, err)
		}
		translations[lang] = t
	}
	return nil
}

func T(lang, key string) string {
	if t, ok := translations[lang]; ok {
		if val, ok := t[key]; ok {
			return val
		}
	}
	// Fallback to English
	if lang != DefaultLang {
		return T(DefaultLang, key)
	}
	return key
}

func DetectLanguage(r *http.Request) string {
	// Example: fr-CH, fr;q=0.9, en;q=0.8, de;q=0.7, *;q=0.5
	accept := r.Header.Get("Accept-Language")
	for _, part := range strings.Split(accept, ",") {
		lang := strings.TrimSpace(strings.Split(part, ";")[0])
		if len(lang) >= 2 {
			lang = strings.ToLower(lang[:2]) // e.g., "en-US" -> "en"
			if _, ok := translations[lang]; ok {
				return lang
			}
		}
	}
	return DefaultLang
}
