package retrieval

import (
	"strings"
	"unicode/utf8"
)

// NewsDumpPolicy flags forwarded news blobs and promo posts so the context
// builder can push them behind organic conversation. Flagged text is
// deprioritised, never dropped.
type NewsDumpPolicy struct {
	// Threshold is the score at or above which text counts as a dump.
	Threshold float64
	// LongTextRunes marks the length beyond which a message reads like a
	// pasted article rather than chat.
	LongTextRunes int
}

// DefaultNewsDumpPolicy returns the tuned production heuristic.
func DefaultNewsDumpPolicy() NewsDumpPolicy {
	return NewsDumpPolicy{Threshold: 0.5, LongTextRunes: 700}
}

// Promo and news-feed phrasings almost never occur in organic conversation.
var newsDumpMarkers = []string{
	"подписывайтесь",
	"подписывайся",
	"подпишись",
	"реклама",
	"промокод",
	"скидка",
	"по ссылке",
	"читать далее",
	"читайте также",
	"источник:",
	"срочно:",
	"breaking",
	"#новости",
}

// Score rates how much the text looks like a news/promo dump, in [0, 1].
func (p NewsDumpPolicy) Score(text string) float64 {
	if text == "" {
		return 0
	}
	lower := strings.ToLower(text)
	score := 0.0

	if n := strings.Count(lower, "http://") + strings.Count(lower, "https://"); n > 0 {
		score += 0.2
		if n >= 2 {
			score += 0.2
		}
	}

	markers := 0
	for _, m := range newsDumpMarkers {
		if strings.Contains(lower, m) {
			markers++
		}
	}
	if markers > 0 {
		score += 0.3
		if markers >= 2 {
			score += 0.2
		}
	}

	if utf8.RuneCountInString(text) >= p.LongTextRunes {
		score += 0.2
	}

	if strings.Count(text, "#") >= 3 {
		score += 0.2
	}

	if score > 1 {
		score = 1
	}
	return score
}

// IsNewsDump reports whether the text crosses the dump threshold.
func (p NewsDumpPolicy) IsNewsDump(text string) bool {
	return p.Score(text) >= p.Threshold
}
