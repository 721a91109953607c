package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/hrygo/chatsense/prompts"
	"github.com/hrygo/chatsense/store"
)

// Composer tuning. Facts are generous when they overlap the question and
// sparse otherwise; interactions and relationships stay short either way.
const (
	composerFactPool        = 20
	composerMaxMatchedFacts = 8
	composerFallbackFacts   = 3
	composerMaxInteractions = 3
	composerMaxRelations    = 5
	composerGenderFloor     = 0.7
	composerAnswerClip      = 200
)

var relationLabels = map[string]string{
	store.RelationshipSpouse:    "супруг(а)",
	store.RelationshipPartner:   "партнёр",
	store.RelationshipParent:    "родитель",
	store.RelationshipChild:     "ребёнок",
	store.RelationshipSibling:   "брат/сестра",
	store.RelationshipRelative:  "родственник",
	store.RelationshipFriend:    "друг",
	store.RelationshipColleague: "коллега",
}

// composerStopwords are question/function words that carry no topic signal
// for fact filtering.
var composerStopwords = map[string]bool{
	"кто": true, "что": true, "как": true, "где": true, "когда": true,
	"почему": true, "зачем": true, "какой": true, "какая": true,
	"какие": true, "сколько": true, "есть": true, "было": true,
	"быть": true, "этот": true, "такая": true, "такой": true, "расскажи": true,
	"скажи": true, "про": true, "для": true, "или": true,
	"the": true, "what": true, "who": true, "how": true, "about": true,
}

// Composer assembles the per-user memory block for the answer prompt:
// profile portrait, gender when confidently known, facts that overlap the
// question, recent exchanges with the bot, and the relationship edges. Roast
// material is included only for roast mode. The block always closes with an
// instruction to use only what is relevant.
type Composer struct {
	store  *store.Store
	logger *slog.Logger
}

// NewComposer creates the composer.
func NewComposer(st *store.Store, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{store: st, logger: logger.With("component", "memory")}
}

// Compose renders the memory block for one asker. Returns "" when nothing is
// known; partial store failures degrade to a smaller block.
func (c *Composer) Compose(ctx context.Context, chatID, userID int64, query, mode string) (string, error) {
	var sections []string

	profile, err := c.store.GetUserProfile(ctx, chatID, userID)
	if err != nil {
		return "", fmt.Errorf("get profile: %w", err)
	}
	if profile != nil {
		sections = append(sections, profileSections(profile, mode)...)
	}

	if s := c.factSection(ctx, chatID, userID, query); s != "" {
		sections = append(sections, s)
	}
	if s := c.interactionSection(ctx, chatID, userID); s != "" {
		sections = append(sections, s)
	}
	if s := c.relationSection(ctx, chatID, userID); s != "" {
		sections = append(sections, s)
	}

	if len(sections) == 0 {
		return "", nil
	}
	sections = append(sections, "Используй только те сведения, которые относятся к вопросу.")
	return strings.Join(sections, "\n"), nil
}

func profileSections(profile *store.UserProfile, mode string) []string {
	var sections []string
	if s := strings.TrimSpace(profile.Summary); s != "" {
		sections = append(sections, "Профиль участника: "+s)
	}
	if g := genderLine(profile); g != "" {
		sections = append(sections, g)
	}
	if s := strings.TrimSpace(profile.CommunicationStyle); s != "" {
		sections = append(sections, "Стиль общения: "+s)
	}
	if s := strings.TrimSpace(profile.RoleLabel); s != "" {
		sections = append(sections, "Роль в чате: "+s)
	}
	if len(profile.Interests) > 0 {
		sections = append(sections, "Интересы: "+strings.Join(profile.Interests, ", "))
	}
	if len(profile.Traits) > 0 {
		sections = append(sections, "Черты: "+strings.Join(profile.Traits, ", "))
	}
	if mode == prompts.ModeRoast && len(profile.RoastMaterial) > 0 {
		sections = append(sections, "Материал для подколов: "+strings.Join(profile.RoastMaterial, "; "))
	}
	return sections
}

func genderLine(profile *store.UserProfile) string {
	if profile.GenderConfidence < composerGenderFloor {
		return ""
	}
	switch profile.Gender {
	case store.GenderMale:
		return "Пол: мужской"
	case store.GenderFemale:
		return "Пол: женский"
	}
	return ""
}

// factSection lists the facts that share vocabulary with the question, or a
// short top slice when nothing overlaps.
func (c *Composer) factSection(ctx context.Context, chatID, userID int64, query string) string {
	facts, err := c.store.ListUserFacts(ctx, &store.FindUserFact{
		ChatID: &chatID,
		UserID: &userID,
		Limit:  composerFactPool,
	})
	if err != nil {
		c.logger.Debug("fact lookup failed", "chat_id", chatID, "user_id", userID, "error", err)
		return ""
	}
	if len(facts) == 0 {
		return ""
	}

	keywords := topicTokens(query)
	matched := make([]*store.UserFact, 0, composerMaxMatchedFacts)
	for _, f := range facts {
		if overlaps(keywords, f.FactValue) {
			matched = append(matched, f)
			if len(matched) == composerMaxMatchedFacts {
				break
			}
		}
	}
	if len(matched) == 0 {
		matched = facts
		if len(matched) > composerFallbackFacts {
			matched = matched[:composerFallbackFacts]
		}
	}

	var sb strings.Builder
	sb.WriteString("Факты об участнике:")
	for _, f := range matched {
		fmt.Fprintf(&sb, "\n- [%s] %s", f.FactType, f.FactValue)
	}
	return sb.String()
}

func (c *Composer) interactionSection(ctx context.Context, chatID, userID int64) string {
	memories, err := c.store.ListConversationMemories(ctx, &store.FindConversationMemory{
		ChatID: &chatID,
		UserID: &userID,
		Limit:  composerMaxInteractions,
	})
	if err != nil {
		c.logger.Debug("interaction lookup failed", "chat_id", chatID, "user_id", userID, "error", err)
		return ""
	}
	if len(memories) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Недавние вопросы участника:")
	for _, m := range memories {
		fmt.Fprintf(&sb, "\n- Вопрос: %s | Ответ: %s", clip(m.Question, composerAnswerClip), clip(m.Answer, composerAnswerClip))
	}
	return sb.String()
}

// relationSection renders the asker's active edges. An edge where the asker
// is the resolved counterpart is shown from their side, named after the
// owner's profile.
func (c *Composer) relationSection(ctx context.Context, chatID, userID int64) string {
	relations, err := c.store.ListUserRelationships(ctx, &store.FindUserRelationship{
		ChatID:     &chatID,
		UserID:     &userID,
		OnlyActive: true,
		Limit:      composerMaxRelations,
	})
	if err != nil {
		c.logger.Debug("relationship lookup failed", "chat_id", chatID, "user_id", userID, "error", err)
		return ""
	}
	if len(relations) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Связи в чате:")
	for _, rel := range relations {
		if rel.FromUserID != userID && rel.RelatedUserID != nil && *rel.RelatedUserID == userID {
			fmt.Fprintf(&sb, "\n- %s назвал(а) участника своим: %s",
				c.displayName(ctx, chatID, rel.FromUserID), relationLabel(rel))
			continue
		}
		fmt.Fprintf(&sb, "\n- %s: %s", relationLabel(rel), rel.RelatedName)
	}
	return sb.String()
}

// relationLabel picks the human word for an edge. The catch-all relative
// type keeps the surface word since it is more precise.
func relationLabel(rel *store.UserRelationship) string {
	if rel.Type == store.RelationshipRelative && rel.SurfaceLabel != "" {
		return rel.SurfaceLabel
	}
	if label := relationLabels[rel.Type]; label != "" {
		return label
	}
	if rel.SurfaceLabel != "" {
		return rel.SurfaceLabel
	}
	return rel.Type
}

func (c *Composer) displayName(ctx context.Context, chatID, userID int64) string {
	profile, err := c.store.GetUserProfile(ctx, chatID, userID)
	if err == nil && profile != nil {
		if profile.DisplayName != "" {
			return profile.DisplayName
		}
		if profile.Username != "" {
			return "@" + profile.Username
		}
	}
	return fmt.Sprintf("участник %d", userID)
}

// topicTokens extracts the content-bearing words of the question.
func topicTokens(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 3 || composerStopwords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// overlaps reports whether any question token and any fact word share a stem:
// one is a prefix of the other and the common part is at least 4 runes. This
// is crude but rides out most Russian inflection (работа/работает).
func overlaps(tokens []string, factValue string) bool {
	words := strings.FieldsFunc(strings.ToLower(factValue), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, t := range tokens {
		tr := []rune(t)
		for _, w := range words {
			wr := []rune(w)
			n := len(tr)
			if len(wr) < n {
				n = len(wr)
			}
			if n < 4 {
				if n >= 3 && t == w {
					return true
				}
				continue
			}
			if string(tr[:n]) == string(wr[:n]) {
				return true
			}
		}
	}
	return false
}

func clip(s string, limit int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit]) + "…"
}
