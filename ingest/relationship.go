package ingest

import (
	"regexp"
	"strings"

	"github.com/hrygo/chatsense/store"
)

// RelationshipExtractor finds explicit relationship statements in messages
// ("это моя жена Маша") and maps the kinship noun onto a canonical edge
// type. Matches are deterministic: no LLM runs on the ingestion path.
type RelationshipExtractor struct{}

// NewRelationshipExtractor creates the extractor.
func NewRelationshipExtractor() *RelationshipExtractor {
	return &RelationshipExtractor{}
}

// Mention is one extracted relationship statement. Name is the surface form
// as written, which for instrumental matches is a declined form.
type Mention struct {
	Name       string
	Label      string
	Type       string
	Confidence float64
}

// Candidates returns the alias-lookup forms for the name: the surface form
// first, then nominative guesses for declined surfaces (Машей → Маша).
func (m Mention) Candidates() []string {
	return append([]string{m.Name}, nominativeGuesses(m.Name)...)
}

// Kinship nouns in nominative and instrumental, mapped to canonical types.
var kinshipTypes = map[string]string{
	"жена": store.RelationshipSpouse, "женой": store.RelationshipSpouse,
	"супруга": store.RelationshipSpouse, "супругой": store.RelationshipSpouse,
	"муж": store.RelationshipSpouse, "мужем": store.RelationshipSpouse,
	"супруг": store.RelationshipSpouse, "супругом": store.RelationshipSpouse,
	"девушка": store.RelationshipPartner, "девушкой": store.RelationshipPartner,
	"парень": store.RelationshipPartner, "парнем": store.RelationshipPartner,
	"невеста": store.RelationshipPartner, "невестой": store.RelationshipPartner,
	"жених": store.RelationshipPartner, "женихом": store.RelationshipPartner,
	"мама": store.RelationshipParent, "мамой": store.RelationshipParent,
	"мать": store.RelationshipParent, "матерью": store.RelationshipParent,
	"папа": store.RelationshipParent, "папой": store.RelationshipParent,
	"отец": store.RelationshipParent, "отцом": store.RelationshipParent,
	"сын": store.RelationshipChild, "сыном": store.RelationshipChild,
	"дочь": store.RelationshipChild, "дочерью": store.RelationshipChild,
	"дочка": store.RelationshipChild, "дочкой": store.RelationshipChild,
	"брат": store.RelationshipSibling, "братом": store.RelationshipSibling,
	"сестра": store.RelationshipSibling, "сестрой": store.RelationshipSibling,
	"дядя": store.RelationshipRelative, "дядей": store.RelationshipRelative,
	"тётя": store.RelationshipRelative, "тётей": store.RelationshipRelative,
	"дед": store.RelationshipRelative, "дедом": store.RelationshipRelative,
	"дедушка": store.RelationshipRelative, "дедушкой": store.RelationshipRelative,
	"бабушка": store.RelationshipRelative, "бабушкой": store.RelationshipRelative,
	"племянник": store.RelationshipRelative, "племянником": store.RelationshipRelative,
	"племянница": store.RelationshipRelative, "племянницей": store.RelationshipRelative,
	"кузен": store.RelationshipRelative, "кузеном": store.RelationshipRelative,
	"кузина": store.RelationshipRelative, "кузиной": store.RelationshipRelative,
	"родственник": store.RelationshipRelative, "родственником": store.RelationshipRelative,
	"родственница": store.RelationshipRelative, "родственницей": store.RelationshipRelative,
	"друг": store.RelationshipFriend, "другом": store.RelationshipFriend,
	"подруга": store.RelationshipFriend, "подругой": store.RelationshipFriend,
	"коллега": store.RelationshipColleague, "коллегой": store.RelationshipColleague,
	"начальник": store.RelationshipColleague, "начальником": store.RelationshipColleague,
	"напарник": store.RelationshipColleague, "напарником": store.RelationshipColleague,
	"босс": store.RelationshipColleague, "боссом": store.RelationshipColleague,
	"шеф": store.RelationshipColleague, "шефом": store.RelationshipColleague,
}

// Statement shapes. The patterns stay case-sensitive so \p{Lu} keeps meaning
// "capitalised name"; possessive variants are spelled out instead of (?i),
// which under RE2 would fold \p{Lu} too. One optional adjective is allowed
// before the kinship noun ("мой лучший друг Петя").
var (
	relIntro        = regexp.MustCompile(`(?:^|[^\p{L}])[Ээ]то\s+мо[йя]\s+(?:\p{Ll}+\s+)?(\p{Ll}+)\s+(\p{Lu}\p{Ll}+)`)
	relReverse      = regexp.MustCompile(`(?:^|[^\p{L}])(\p{Lu}\p{Ll}+)\s*[—–-]\s*мо[йя]\s+(\p{Ll}+)`)
	relPossessive   = regexp.MustCompile(`(?:^|[^\p{L}])[Мм]о[йя]\s+(?:\p{Ll}+\s+)?(\p{Ll}+)\s+(\p{Lu}\p{Ll}+)`)
	relInstrumental = regexp.MustCompile(`(?:^|[^\p{L}])[Сс]\s+мо(?:им|ей)\s+(?:\p{Ll}+\s+)?(\p{Ll}+)\s+(\p{Lu}\p{Ll}+)`)
)

// Extract returns every relationship statement found in the text. When the
// same (name, type) pair matches several patterns, the most specific one
// wins: introductions are surer than bare possessives.
func (e *RelationshipExtractor) Extract(text string) []Mention {
	var out []Mention
	seen := make(map[string]bool)

	add := func(label, name string, confidence float64) {
		typ, ok := kinshipTypes[strings.ToLower(label)]
		if !ok {
			return
		}
		key := strings.ToLower(name) + ":" + typ
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, Mention{Name: name, Label: label, Type: typ, Confidence: confidence})
	}

	for _, m := range relIntro.FindAllStringSubmatch(text, -1) {
		add(m[1], m[2], 0.9)
	}
	for _, m := range relReverse.FindAllStringSubmatch(text, -1) {
		add(m[2], m[1], 0.85)
	}
	for _, m := range relPossessive.FindAllStringSubmatch(text, -1) {
		add(m[1], m[2], 0.7)
	}
	for _, m := range relInstrumental.FindAllStringSubmatch(text, -1) {
		add(m[1], m[2], 0.6)
	}
	return out
}

// nominativeGuesses undoes the common instrumental endings of Russian given
// names. The guesses feed alias lookup; a wrong guess simply misses.
func nominativeGuesses(name string) []string {
	runes := []rune(name)
	if len(runes) < 4 {
		return nil
	}
	stem := string(runes[:len(runes)-2])
	switch string(runes[len(runes)-2:]) {
	case "ей": // Машей → Маша, Катей → Катя
		return []string{stem + "а", stem + "я"}
	case "ой": // Ольгой → Ольга
		return []string{stem + "а"}
	case "ом": // Иваном → Иван
		return []string{stem}
	case "ем": // Сергеем → Сергей, Игорем → Игорь
		return []string{stem + "й", stem + "ь"}
	}
	return nil
}
