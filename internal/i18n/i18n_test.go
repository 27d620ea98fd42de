package i18n

import (
	"strings"
	"testing"
)

func TestGetEnglishTemplates(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatalf("new localizer: %v", err)
	}

	got := l.Get("english", MsgImageLimitFree, map[string]any{"Limit": 6, "PremiumLimit": 20})
	want := "You've reached your free tier limit of 6 image generations. Upgrade to premium for 20 daily generations."
	if got != want {
		t.Fatalf("unexpected free-tier copy %q", got)
	}

	got = l.Get("english", MsgImageLimitPremium, map[string]any{"Limit": 20})
	if got != "You've reached your daily limit of 20 image generations." {
		t.Fatalf("unexpected premium copy %q", got)
	}
}

func TestGetPerLanguage(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatalf("new localizer: %v", err)
	}

	en := l.Get("english", MsgChatFallback, nil)
	hi := l.Get("hindi", MsgChatFallback, nil)
	hinglish := l.Get("hinglish", MsgChatFallback, nil)

	if en != "Sorry, I couldn't process your request. Please try again in a moment." {
		t.Fatalf("unexpected english fallback %q", en)
	}
	if !strings.Contains(hi, "क्षमा") {
		t.Fatalf("expected devanagari hindi copy, got %q", hi)
	}
	if !strings.Contains(hinglish, "yaar") {
		t.Fatalf("expected hinglish copy, got %q", hinglish)
	}
}

func TestGetUnknownLanguageAndID(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatalf("new localizer: %v", err)
	}
	if got := l.Get("klingon", MsgPremiumRequired, nil); got != "Premium subscription required" {
		t.Fatalf("expected english for unknown language, got %q", got)
	}
	if got := l.Get("english", "no_such_message", nil); got != "no_such_message" {
		t.Fatalf("expected id echo, got %q", got)
	}
}
