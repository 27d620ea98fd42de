package chat

import (
	"fmt"
	"strings"

	"desiai/internal/storage"
)

const (
	chatTemperature = 0.7
	chatMaxTokens   = 2048
	imageSize       = "1024x1024"

	titleRunes   = 30
	defaultTitle = "New Conversation"
)

func systemPrompt(botName, language string, premium bool) string {
	if strings.TrimSpace(botName) == "" {
		botName = storage.DefaultBotName
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a friendly and helpful AI assistant with an Indian personality.\nRespond in %s language.", botName, language)
	switch language {
	case storage.LanguageHindi:
		b.WriteString(" आप हिंदी में उत्तर देंगे।")
	case storage.LanguageHinglish:
		b.WriteString(" You should mix Hindi and English (Hinglish) in your responses in a natural way.")
	}
	b.WriteString(`
- When responding, be polite, helpful, and provide complete answers
- Include relevant cultural context when appropriate, especially related to Indian culture
- If you don't know the answer, admit it rather than making things up`)

	if premium {
		b.WriteString(`
- You have ENHANCED VERIFICATION enabled (3x check).
- Take extra time to verify answers through multiple reasoning paths:
  1. Check factual accuracy and sources
  2. Verify logical consistency and completeness
  3. Consider edge cases and potential issues
- For each response, include internal verification steps
- Mark the confidence level for premium users`)
	}
	return b.String()
}

func followUpPrompt(botName, original, followUp, language string) string {
	if strings.TrimSpace(botName) == "" {
		botName = storage.DefaultBotName
	}
	return fmt.Sprintf(`You are %s, a friendly and helpful AI assistant.
You previously responded with: %q
The user is asking for clarification with: %q

Please provide a clearer, simpler explanation in %s language. Address the specific concerns or confusion the user expressed.`,
		botName, original, followUp, language)
}

func enrichImagePrompt(prompt string) string {
	lower := strings.ToLower(prompt)
	// "india" also covers "indian".
	if strings.Contains(lower, "india") || strings.Contains(lower, "desi") {
		return prompt
	}
	return prompt + ", with subtle Indian cultural elements, vibrant colors"
}

func sessionTitle(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return defaultTitle
	}
	r := []rune(content)
	if len(r) <= titleRunes {
		return content
	}
	return string(r[:titleRunes]) + "…"
}
