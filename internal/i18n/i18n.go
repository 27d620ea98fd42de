package i18n

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localesFS embed.FS

// Message IDs
const (
	MsgChatFallback      = "chat_fallback"
	MsgImageLimitPremium = "image_limit_premium"
	MsgImageLimitFree    = "image_limit_free"
	MsgMemoryLimit       = "memory_limit"
	MsgPremiumRequired   = "premium_required"
	MsgGamePremium       = "game_premium"
	MsgMusicPremium      = "music_premium"
	MsgCodeCheckFailed   = "code_check_failed"
)

// Stored preferred_language values map onto bundle tags; hinglish is Hindi
// written in Latin script.
var languageTags = map[string]language.Tag{
	"english":  language.English,
	"hindi":    language.Hindi,
	"hinglish": language.MustParse("hi-Latn"),
}

type Localizer struct {
	localizers map[string]*i18n.Localizer
	fallback   *i18n.Localizer
}

func New() (*Localizer, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	for _, name := range []string{"en.json", "hi.json", "hi-Latn.json"} {
		if _, err := bundle.LoadMessageFileFS(localesFS, "locales/"+name); err != nil {
			return nil, fmt.Errorf("load locale %s: %w", name, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer, len(languageTags))
	for lang, tag := range languageTags {
		localizers[lang] = i18n.NewLocalizer(bundle, tag.String())
	}
	return &Localizer{localizers: localizers, fallback: localizers["english"]}, nil
}

// Get never fails; unknown languages use English and unknown IDs come back verbatim.
func (l *Localizer) Get(lang, messageID string, data map[string]any) string {
	loc, ok := l.localizers[lang]
	if !ok {
		loc = l.fallback
	}
	msg, err := loc.Localize(&i18n.LocalizeConfig{MessageID: messageID, TemplateData: data})
	if err != nil {
		return messageID
	}
	return msg
}
