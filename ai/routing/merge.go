package routing

import (
	"fmt"

	"github.com/hrygo/intentgate/ai"
)

// Agreement is the outcome of tallying one vote set. It is one of
// FullAgreement, SplitAgreement, SingleAgreement or NoAgreement.
type Agreement interface {
	Level() ai.AgreementLevel
}

// FullAgreement: every succeeding backend returned the same intent.
type FullAgreement struct {
	Intent ai.Intent
	Voters int
}

// SplitAgreement: succeeding backends disagree. Intent is the plurality
// winner, ties going to the backend declared first.
type SplitAgreement struct {
	Intent ai.Intent
	Tally  map[ai.Intent]int
}

// SingleAgreement: exactly one backend succeeded and at least one failed.
type SingleAgreement struct {
	Intent  ai.Intent
	Backend string
}

// NoAgreement: every backend failed.
type NoAgreement struct {
	Failures int
}

func (FullAgreement) Level() ai.AgreementLevel   { return ai.AgreementFull }
func (SplitAgreement) Level() ai.AgreementLevel  { return ai.AgreementSplit }
func (SingleAgreement) Level() ai.AgreementLevel { return ai.AgreementSingle }
func (NoAgreement) Level() ai.AgreementLevel     { return ai.AgreementNone }

// Tally classifies votes. Votes must be in backend priority order.
func Tally(votes []ai.Vote) Agreement {
	var succeeded []ai.Vote
	for _, v := range votes {
		if !v.Failed {
			succeeded = append(succeeded, v)
		}
	}

	switch {
	case len(succeeded) == 0:
		return NoAgreement{Failures: len(votes)}
	case len(succeeded) == 1 && len(votes) > 1:
		return SingleAgreement{Intent: succeeded[0].Intent, Backend: succeeded[0].Backend}
	}

	counts := make(map[ai.Intent]int)
	var order []ai.Intent
	for _, v := range succeeded {
		if counts[v.Intent] == 0 {
			order = append(order, v.Intent)
		}
		counts[v.Intent]++
	}
	if len(counts) == 1 {
		return FullAgreement{Intent: succeeded[0].Intent, Voters: len(succeeded)}
	}

	// order follows first appearance, so a strict comparison keeps the
	// higher-priority intent on ties.
	winner := order[0]
	for _, intent := range order[1:] {
		if counts[intent] > counts[winner] {
			winner = intent
		}
	}
	return SplitAgreement{Intent: winner, Tally: counts}
}

// MergePolicy holds the fixed confidences of each agreement level.
type MergePolicy struct {
	FullConfidence   float32
	SplitConfidence  float32
	SingleConfidence float32
}

// Merge turns votes into a classification result. The returned result has
// Failed set when no backend succeeded.
func (p MergePolicy) Merge(votes []ai.Vote) *ai.Result {
	switch a := Tally(votes).(type) {
	case FullAgreement:
		return &ai.Result{
			Intent:     a.Intent,
			Confidence: p.FullConfidence,
			Agreement:  ai.AgreementFull,
			Votes:      votes,
			Status:     ai.StatusClassified,
		}
	case SplitAgreement:
		return &ai.Result{
			Intent:             a.Intent,
			Confidence:         p.SplitConfidence,
			Agreement:          ai.AgreementSplit,
			NeedsClarification: true,
			Votes:              votes,
			Status:             ai.StatusClassified,
		}
	case SingleAgreement:
		return &ai.Result{
			Intent:     a.Intent,
			Confidence: p.SingleConfidence,
			Agreement:  ai.AgreementSingle,
			Votes:      votes,
			Status:     ai.StatusClassified,
		}
	case NoAgreement:
		res := ai.Fallback(ai.StatusFailed, "all_backends_failed")
		res.Votes = votes
		return res
	default:
		panic(fmt.Sprintf("routing: unhandled agreement %T", a))
	}
}
