package tts

import (
	"regexp"
	"strings"
)

var (
	markdownReplacer = strings.NewReplacer("**", "", "__", "", "~~", "", "`", "", "*", "", "#", "")
	// anything that is not a letter, digit, punctuation or separator, emoji mostly
	nonSpeechRegex      = regexp.MustCompile(`[^\p{L}\p{N}\p{P}\p{Z}]`)
	multipleSpacesRegex = regexp.MustCompile(`\s+`)
)

func normalizeTextForTTS(text string) string {
	text = markdownReplacer.Replace(text)
	text = multipleSpacesRegex.ReplaceAllString(text, " ")
	text = nonSpeechRegex.ReplaceAllString(text, "")
	text = multipleSpacesRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
