package memory

import (
	"context"
	"testing"

	"github.com/hrygo/chatsense/store"
)

func TestFromName(t *testing.T) {
	cases := []struct {
		name       string
		gender     string
		confidence float64
	}{
		{"Дмитрий", store.GenderMale, genderDictConfidence},
		{"дима", store.GenderMale, genderDictConfidence},
		{"Никита", store.GenderMale, genderDictConfidence}, // -а ending, dictionary wins
		{"Илья Петров", store.GenderMale, genderDictConfidence},
		{"Мария", store.GenderFemale, genderDictConfidence},
		{"наташа", store.GenderFemale, genderDictConfidence},
		{"Зарина", store.GenderFemale, genderEndingConfidence}, // not in dictionary, -а ending
		{"Тимерлан", store.GenderMale, genderEndingConfidence}, // not in dictionary, consonant ending
		{"Саша", store.GenderUnknown, 0},                       // unisex
		{"Женя", store.GenderUnknown, 0},
		{"John", store.GenderUnknown, 0}, // non-Cyrillic
		{"", store.GenderUnknown, 0},
		{"   ", store.GenderUnknown, 0},
	}

	for _, tc := range cases {
		gender, confidence := FromName(tc.name)
		if gender != tc.gender || confidence != tc.confidence {
			t.Errorf("FromName(%q) = (%s, %.2f), want (%s, %.2f)",
				tc.name, gender, confidence, tc.gender, tc.confidence)
		}
	}
}

func TestFromMessages(t *testing.T) {
	cases := []struct {
		label  string
		texts  []string
		gender string
	}{
		{
			label:  "feminine past tense",
			texts:  []string{"я вчера ходила в кино", "я уже сказала ему всё"},
			gender: store.GenderFemale,
		},
		{
			label:  "masculine past tense",
			texts:  []string{"я ходил на работу", "я сделал отчёт"},
			gender: store.GenderMale,
		},
		{
			label:  "feminine self-referent",
			texts:  []string{"я сама разберусь", "нет, я рада за вас"},
			gender: store.GenderFemale,
		},
		{
			label:  "masculine self-referent",
			texts:  []string{"я сам дойду", "я готов выехать"},
			gender: store.GenderMale,
		},
		{
			label:  "no evidence",
			texts:  []string{"привет всем", "норм"},
			gender: store.GenderUnknown,
		},
		{
			label:  "mixed evidence below dominance",
			texts:  []string{"я пошла домой", "я пошёл домой"},
			gender: store.GenderUnknown,
		},
		{
			label:  "quoting does not flip a clear majority",
			texts:  []string{"я ходила в магазин", "я купила хлеб", "я забыла зонт", "он сказал: я ходил"},
			gender: store.GenderFemale,
		},
	}

	for _, tc := range cases {
		gender, confidence := FromMessages(tc.texts)
		if gender != tc.gender {
			t.Errorf("%s: FromMessages = %s (%.2f), want %s", tc.label, gender, confidence, tc.gender)
		}
		if tc.gender != store.GenderUnknown && confidence < genderMessageBase {
			t.Errorf("%s: confidence %.2f below base", tc.label, confidence)
		}
	}
}

func TestFromMessagesConfidenceGrowsWithEvidence(t *testing.T) {
	_, one := FromMessages([]string{"я пошла домой"})
	_, many := FromMessages([]string{
		"я пошла домой", "я сказала ему", "я сама видела", "я купила кофе", "я уже забыла", "я рада",
	})
	if many <= one {
		t.Fatalf("confidence should grow with evidence: one=%.2f many=%.2f", one, many)
	}
	if many > genderMessageCap {
		t.Fatalf("confidence %.2f exceeds cap %.2f", many, genderMessageCap)
	}
}

// genderDriver stubs the two profile calls Refresh makes.
type genderDriver struct {
	store.Driver

	profile *store.UserProfile

	updated    bool
	gotGender  string
	gotConf    float64
	updateHits int
}

func (d *genderDriver) GetUserProfile(_ context.Context, _, _ int64) (*store.UserProfile, error) {
	return d.profile, nil
}

func (d *genderDriver) UpdateUserGender(_ context.Context, _, _ int64, gender string, confidence float64) (bool, error) {
	d.updateHits++
	d.gotGender = gender
	d.gotConf = confidence
	return d.updated, nil
}

func TestRefreshSkipsConfidentProfile(t *testing.T) {
	driver := &genderDriver{profile: &store.UserProfile{
		Gender:           store.GenderFemale,
		GenderConfidence: genderDictConfidence,
	}}
	detector := NewGenderDetector(store.New(driver, nil), nil)

	err := detector.Refresh(context.Background(), 1, 2, "Пётр", []string{"я ходил"})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if driver.updateHits != 0 {
		t.Fatalf("expected no update for an already confident profile, got %d", driver.updateHits)
	}
}

func TestRefreshPrefersStrongerEstimate(t *testing.T) {
	driver := &genderDriver{updated: true}
	detector := NewGenderDetector(store.New(driver, nil), nil)

	// The name says female at 0.6 via ending; messages say female with more
	// evidence. Either way the stored gender must be female with the larger
	// confidence of the two.
	err := detector.Refresh(context.Background(), 1, 2, "Зарина", []string{
		"я пошла домой", "я сама видела", "я сказала ему", "я рада",
	})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if driver.updateHits != 1 {
		t.Fatalf("expected one update, got %d", driver.updateHits)
	}
	if driver.gotGender != store.GenderFemale {
		t.Fatalf("gender = %s, want female", driver.gotGender)
	}
	if driver.gotConf <= genderEndingConfidence {
		t.Fatalf("confidence %.2f should beat the bare ending heuristic", driver.gotConf)
	}
}

func TestRefreshUnknownWritesNothing(t *testing.T) {
	driver := &genderDriver{}
	detector := NewGenderDetector(store.New(driver, nil), nil)

	err := detector.Refresh(context.Background(), 1, 2, "Саша", []string{"привет", "норм"})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if driver.updateHits != 0 {
		t.Fatalf("expected no update without evidence, got %d", driver.updateHits)
	}
}
