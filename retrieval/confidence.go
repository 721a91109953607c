// Package retrieval implements hybrid search over indexed chat history:
// intent classification, query expansion, vector and lexical candidate
// gathering with reciprocal-rank fusion, cross-encoder reranking, and a
// confidence policy gating answer generation.
package retrieval

import "fmt"

// Level is the confidence label attached to a retrieval result.
type Level int

const (
	ConfidenceNone Level = iota
	ConfidenceLow
	ConfidenceMedium
	ConfidenceHigh
)

func (l Level) String() string {
	switch l {
	case ConfidenceHigh:
		return "high"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceLow:
		return "low"
	default:
		return "none"
	}
}

// Verdict is the policy output. Reasons are kept verbatim for debug reports.
type Verdict struct {
	Label   Level
	Reasons []string
}

// Signals are the retrieval facts the policy judges.
type Signals struct {
	Candidates int
	// BestScore and SecondScore are the two strongest vector similarities.
	BestScore   float64
	SecondScore float64
	// HasLexical is true when any candidate came from full-text search.
	HasLexical bool
	// RerankApplied / RerankSurvivors describe the cross-encoder pass.
	RerankApplied   bool
	RerankSurvivors int
}

// ConfidencePolicy buckets the best similarity and adjusts for gap,
// lexical corroboration, and rerank survivors.
type ConfidencePolicy struct {
	HighScore   float64
	MediumScore float64
	LowScore    float64
	FloorScore  float64
	// DistinctiveGap is the #1 minus #2 score distance treated as a strong
	// signal that the top hit is the answer.
	DistinctiveGap float64
}

// DefaultConfidencePolicy returns the tuned production thresholds.
func DefaultConfidencePolicy() ConfidencePolicy {
	return ConfidencePolicy{
		HighScore:      0.85,
		MediumScore:    0.75,
		LowScore:       0.65,
		FloorScore:     0.50,
		DistinctiveGap: 0.15,
	}
}

// Evaluate derives the confidence verdict from the signals.
func (p ConfidencePolicy) Evaluate(s Signals) Verdict {
	if s.Candidates == 0 {
		return Verdict{Label: ConfidenceNone, Reasons: []string{"no candidates retrieved"}}
	}

	v := Verdict{}
	switch {
	case s.BestScore >= p.HighScore:
		v.Label = ConfidenceHigh
		v.add("best score %.3f >= high threshold %.2f", s.BestScore, p.HighScore)
	case s.BestScore >= p.MediumScore:
		v.Label = ConfidenceMedium
		v.add("best score %.3f >= medium threshold %.2f", s.BestScore, p.MediumScore)
	case s.BestScore >= p.LowScore:
		v.Label = ConfidenceLow
		v.add("best score %.3f >= low threshold %.2f", s.BestScore, p.LowScore)
	case s.BestScore >= p.FloorScore:
		v.Label = ConfidenceNone
		v.add("best score %.3f below low threshold %.2f", s.BestScore, p.LowScore)
	default:
		v.Label = ConfidenceNone
		v.add("best score %.3f below floor %.2f", s.BestScore, p.FloorScore)
	}

	// A distinctive top hit bumps the label one level.
	if gap := s.BestScore - s.SecondScore; s.Candidates > 1 &&
		gap >= p.DistinctiveGap && v.Label >= ConfidenceLow && v.Label < ConfidenceHigh {
		v.Label++
		v.add("distinctive gap %.3f between top candidates", gap)
	}

	// An exact lexical match keeps weak vector-only results from being
	// dismissed outright.
	if s.HasLexical {
		if v.Label == ConfidenceNone {
			v.Label = ConfidenceLow
			v.add("lexical match present despite weak vector scores")
		} else {
			v.add("lexical match corroborates vector results")
		}
	}

	if s.RerankApplied {
		switch {
		case s.RerankSurvivors == 0:
			v.Label = ConfidenceNone
			v.add("rerank rejected every candidate")
		case s.RerankSurvivors >= 3 && v.Label == ConfidenceLow:
			v.Label = ConfidenceMedium
			v.add(fmt.Sprintf("%d candidates survived rerank", s.RerankSurvivors))
		default:
			v.add(fmt.Sprintf("%d candidates survived rerank", s.RerankSurvivors))
		}
	}

	return v
}

func (v *Verdict) add(format string, args ...any) {
	if len(args) == 0 {
		v.Reasons = append(v.Reasons, format)
		return
	}
	v.Reasons = append(v.Reasons, fmt.Sprintf(format, args...))
}
