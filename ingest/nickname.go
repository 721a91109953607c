package ingest

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// NicknameExtractor pulls addressing names out of reply texts: when someone
// answers "Петруха, глянь" to another user's message, "Петруха" is recorded
// as that user's nickname. Only replies are considered, so the name can be
// credited to a concrete account.
type NicknameExtractor struct{}

// NewNicknameExtractor creates the extractor.
func NewNicknameExtractor() *NicknameExtractor {
	return &NicknameExtractor{}
}

// Addressing shapes, most specific first. Capitalisation is required: the
// stop-word list catches capitalised sentence starters, not every noun.
var nicknamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[Ээ]й,?\s+(\p{Lu}\p{Ll}+)`),
	regexp.MustCompile(`^(\p{Lu}\p{Ll}+),\s`),
	regexp.MustCompile(`^(\p{Lu}\p{Ll}+):\s`),
	regexp.MustCompile(`^(\p{Lu}\p{Ll}+)[!?.]*$`),
}

// Capitalised words that open replies without being names.
var nicknameStopWords = map[string]bool{
	"эй": true, "привет": true, "здравствуй": true, "здравствуйте": true,
	"спасибо": true, "пожалуйста": true, "ладно": true, "хорошо": true,
	"окей": true, "ок": true, "да": true, "нет": true, "ага": true,
	"короче": true, "кстати": true, "слушай": true, "слушайте": true,
	"смотри": true, "смотрите": true, "погоди": true, "подожди": true,
	"давай": true, "давайте": true, "может": true, "конечно": true,
	"вообще": true, "однако": true, "итак": true, "точно": true,
	"народ": true, "ребята": true, "ребят": true, "пацаны": true,
	"девочки": true, "коллеги": true, "друзья": true, "господа": true,
	"бро": true, "брат": true, "братан": true, "чувак": true, "дружище": true,
	"блин": true, "боже": true, "господи": true, "капец": true,
	"стоп": true, "внимание": true, "важно": true, "срочно": true,
	"доброе": true, "добрый": true, "утро": true, "день": true, "вечер": true,
}

// Extract returns the addressing name from a reply text, if any.
func (e *NicknameExtractor) Extract(text string) (string, bool) {
	text = strings.TrimSpace(text)
	for _, re := range nicknamePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if name := m[1]; plausibleNickname(name) {
			return name, true
		}
	}
	return "", false
}

func plausibleNickname(name string) bool {
	if n := utf8.RuneCountInString(name); n < 2 || n > 16 {
		return false
	}
	return !nicknameStopWords[strings.ToLower(name)]
}
