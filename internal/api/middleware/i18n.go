package middleware

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

// Context keys set by the I18n middleware
const (
	LanguageKey    = "language"
	TranslateKey   = "t"
	sessionLangKey = "language"
)

// I18nConfig configures the i18n middleware
type I18nConfig struct {
	DefaultLanguage string
	Locales         fs.FS  // holds <lang>.json message files
	LocalesDir      string // directory inside Locales
}

// Translator resolves message ids for the supported languages
type Translator struct {
	bundle     *i18n.Bundle
	localizers map[string]*i18n.Localizer
	matcher    language.Matcher
	tags       []language.Tag
	fallback   string
}

// NewTranslator loads every message file of the locales directory
func NewTranslator(config I18nConfig) (*Translator, error) {
	if config.DefaultLanguage == "" {
		config.DefaultLanguage = "en"
	}
	if config.LocalesDir == "" {
		config.LocalesDir = "."
	}

	defaultTag, err := language.Parse(config.DefaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("invalid default language %q: %w", config.DefaultLanguage, err)
	}

	bundle := i18n.NewBundle(defaultTag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	t := &Translator{
		bundle:     bundle,
		localizers: make(map[string]*i18n.Localizer),
		fallback:   defaultTag.String(),
	}

	files, err := fs.ReadDir(config.Locales, config.LocalesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read locales: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		mf, err := bundle.LoadMessageFileFS(config.Locales, path.Join(config.LocalesDir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", file.Name(), err)
		}
		lang := mf.Tag.String()
		t.localizers[lang] = i18n.NewLocalizer(bundle, lang, t.fallback)
		log.Debugf("Loaded %d messages for language %s", len(mf.Messages), lang)
	}

	if _, ok := t.localizers[t.fallback]; !ok {
		return nil, fmt.Errorf("no messages for default language %s", t.fallback)
	}

	// default language first so the matcher falls back to it
	t.tags = append(t.tags, defaultTag)
	for _, tag := range bundle.LanguageTags() {
		if tag != defaultTag {
			t.tags = append(t.tags, tag)
		}
	}
	t.matcher = language.NewMatcher(t.tags)
	return t, nil
}

// Languages returns the supported language codes, default first
func (t *Translator) Languages() []string {
	out := make([]string, len(t.tags))
	for i, tag := range t.tags {
		out[i] = tag.String()
	}
	return out
}

// Supports reports whether lang has a message file
func (t *Translator) Supports(lang string) bool {
	_, ok := t.localizers[lang]
	return ok
}

// Match picks the best supported language for an Accept-Language header
func (t *Translator) Match(acceptLanguage string) string {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return t.fallback
	}
	_, idx, conf := t.matcher.Match(tags...)
	if conf == language.No {
		return t.fallback
	}
	return t.tags[idx].String()
}

// Translate returns the message for key in lang, falling back to the default language and then to key
func (t *Translator) Translate(lang, key string) string {
	localizer, ok := t.localizers[lang]
	if !ok {
		localizer = t.localizers[t.fallback]
	}
	msg, err := localizer.Localize(&i18n.LocalizeConfig{MessageID: key})
	if err != nil || msg == "" {
		return key
	}
	return msg
}

// I18n selects the request language from ?lang=, the session, or Accept-Language, in that order.
// A valid ?lang= is remembered in the session. Requires the sessions middleware.
func I18n(translator *Translator) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)

		lang := c.Query("lang")
		if translator.Supports(lang) {
			session.Set(sessionLangKey, lang)
			if err := session.Save(); err != nil {
				log.Warnf("Failed to save language in session: %v", err)
			}
		} else if stored, ok := session.Get(sessionLangKey).(string); ok && translator.Supports(stored) {
			lang = stored
		} else {
			lang = translator.Match(c.GetHeader("Accept-Language"))
		}

		c.Set(LanguageKey, lang)
		c.Set(TranslateKey, func(key string) string {
			return translator.Translate(lang, key)
		})

		c.Next()
	}
}
