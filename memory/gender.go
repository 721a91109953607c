package memory

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/hrygo/chatsense/store"
)

// Gender detection confidence tiers. A dictionary hit on the first name is
// near-certain; a bare ending heuristic is a guess; message evidence lands in
// between and grows with the number of gendered utterances.
const (
	genderDictConfidence    = 0.9
	genderEndingConfidence  = 0.6
	genderMessageBase       = 0.6
	genderMessageStep       = 0.05
	genderMessageCap        = 0.85
	genderMessageDominance  = 0.7
	genderRefreshBelowLevel = genderDictConfidence
)

// maleNames and femaleNames cover the common Russian first names and their
// everyday diminutives. Unisex short forms (Саша, Женя, Валя) are absent on
// purpose: for those only message evidence decides.
var maleNames = map[string]bool{
	"александр": true, "алексей": true, "андрей": true, "антон": true,
	"аркадий": true, "артем": true, "артём": true, "борис": true,
	"вадим": true, "валентин": true, "валерий": true, "василий": true,
	"виктор": true, "виталий": true, "владимир": true, "владислав": true,
	"вячеслав": true, "геннадий": true, "георгий": true, "глеб": true,
	"григорий": true, "даниил": true, "данила": true, "денис": true,
	"дмитрий": true, "евгений": true, "егор": true, "иван": true,
	"игорь": true, "илья": true, "кирилл": true, "константин": true,
	"лев": true, "леонид": true, "максим": true, "матвей": true,
	"михаил": true, "никита": true, "николай": true, "олег": true,
	"павел": true, "петр": true, "пётр": true, "роман": true,
	"руслан": true, "семен": true, "семён": true, "сергей": true,
	"станислав": true, "степан": true, "тимофей": true, "тимур": true,
	"федор": true, "фёдор": true, "эдуард": true, "юрий": true,
	"ярослав": true,
	// diminutives
	"вася": true, "витя": true, "вова": true, "володя": true,
	"гоша": true, "дима": true, "костя": true, "коля": true,
	"леша": true, "лёша": true, "макс": true, "миша": true,
	"паша": true, "петя": true, "рома": true, "серега": true,
	"серёга": true, "сережа": true, "серёжа": true, "слава": true,
	"стас": true, "толя": true, "юра": true,
}

var femaleNames = map[string]bool{
	"алена": true, "алёна": true, "алина": true, "алла": true,
	"анастасия": true, "ангелина": true, "анна": true, "валентина": true,
	"валерия": true, "варвара": true, "вера": true, "вероника": true,
	"виктория": true, "галина": true, "дарья": true, "диана": true,
	"евгения": true, "екатерина": true, "елена": true, "елизавета": true,
	"инна": true, "ирина": true, "карина": true, "кристина": true,
	"ксения": true, "лариса": true, "лидия": true, "любовь": true,
	"людмила": true, "маргарита": true, "марина": true, "мария": true,
	"милана": true, "надежда": true, "наталья": true, "нина": true,
	"оксана": true, "ольга": true, "полина": true, "светлана": true,
	"софия": true, "софья": true, "татьяна": true, "ульяна": true,
	"юлия": true, "яна": true,
	// diminutives
	"аня": true, "варя": true, "вика": true, "галя": true,
	"даша": true, "ира": true, "катя": true, "ксюша": true,
	"лена": true, "лера": true, "лиза": true, "люба": true,
	"люда": true, "маша": true, "надя": true, "настя": true,
	"наташа": true, "оля": true, "рита": true, "света": true,
	"соня": true, "таня": true, "уля": true, "юля": true,
}

// unisexNames short-circuit the ending heuristic: an "-а" ending proves
// nothing for these.
var unisexNames = map[string]bool{
	"саша": true, "женя": true, "валя": true, "шура": true,
}

// Message-evidence patterns. RE2's \b is ASCII-only, so boundaries are
// spelled out the same way the relationship extractor does it.
var (
	// "я сказала", "я бы пошла", "я уверена", "я сама", "я рада", "я одна"
	femaleSpeech = regexp.MustCompile(`(?i)(?:^|[^\p{L}])я(?:\s+бы)?\s+(?:\p{L}+ла(?:сь)?|сама|рада|должна|уверена|готова|согласна|одна)(?:$|[^\p{L}])`)
	// "я сказал", "я бы пошёл", "я уверен", "я сам", "я рад", "я один"
	maleSpeech = regexp.MustCompile(`(?i)(?:^|[^\p{L}])я(?:\s+бы)?\s+(?:\p{L}+л(?:ся)?|сам|рад|должен|уверен|готов|согласен|один)(?:$|[^\p{L}])`)
)

// GenderDetector fills in user_profiles.gender from the display name and the
// user's own messages. Updates go through the store's monotonic guard, so a
// new estimate never downgrades an existing higher-confidence one.
type GenderDetector struct {
	store  *store.Store
	logger *slog.Logger
}

// NewGenderDetector creates the detector.
func NewGenderDetector(st *store.Store, logger *slog.Logger) *GenderDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenderDetector{store: st, logger: logger.With("component", "gender")}
}

// FromName estimates gender from a display name: dictionary first, name
// ending second. Non-Cyrillic and unisex names return unknown.
func FromName(displayName string) (string, float64) {
	name := firstToken(displayName)
	if name == "" || !isCyrillic(name) || unisexNames[name] {
		return store.GenderUnknown, 0
	}
	if maleNames[name] {
		return store.GenderMale, genderDictConfidence
	}
	if femaleNames[name] {
		return store.GenderFemale, genderDictConfidence
	}
	if strings.HasSuffix(name, "а") || strings.HasSuffix(name, "я") {
		return store.GenderFemale, genderEndingConfidence
	}
	return store.GenderMale, genderEndingConfidence
}

// FromMessages estimates gender from gendered speech in the user's own
// texts: past-tense verb endings and self-referents. The winner needs a
// clear majority of the votes; confidence grows with the evidence count.
func FromMessages(texts []string) (string, float64) {
	var male, female int
	for _, text := range texts {
		male += len(maleSpeech.FindAllString(text, -1))
		female += len(femaleSpeech.FindAllString(text, -1))
	}
	total := male + female
	if total == 0 {
		return store.GenderUnknown, 0
	}

	gender, votes := store.GenderMale, male
	if female > male {
		gender, votes = store.GenderFemale, female
	}
	if float64(votes)/float64(total) < genderMessageDominance {
		return store.GenderUnknown, 0
	}

	confidence := genderMessageBase + genderMessageStep*float64(min(votes, 5))
	if confidence > genderMessageCap {
		confidence = genderMessageCap
	}
	return gender, confidence
}

// Refresh combines both estimates for one user and stores the stronger one.
// A profile already at dictionary-level confidence is left alone without a
// write.
func (d *GenderDetector) Refresh(ctx context.Context, chatID, userID int64, displayName string, texts []string) error {
	profile, err := d.store.GetUserProfile(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if profile != nil && profile.GenderConfidence >= genderRefreshBelowLevel {
		return nil
	}

	gender, confidence := FromName(displayName)
	if g, c := FromMessages(texts); c > confidence {
		gender, confidence = g, c
	}
	if gender == store.GenderUnknown || confidence == 0 {
		return nil
	}

	updated, err := d.store.UpdateUserGender(ctx, chatID, userID, gender, confidence)
	if err != nil {
		return err
	}
	if updated {
		d.logger.Debug("gender updated",
			"chat_id", chatID, "user_id", userID, "gender", gender, "confidence", confidence)
	}
	return nil
}

func firstToken(name string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(name)))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func isCyrillic(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Cyrillic, r) {
			return true
		}
	}
	return false
}
