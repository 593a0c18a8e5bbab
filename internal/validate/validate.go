// Package validate aggregates a run's failure signals into the review
// decision that routes it to persistence or to a human.
package validate

import "github.com/jackzampolin/dafmap/internal/page"

// Outcome is the terminal route chosen for a run.
type Outcome string

const (
	// OutcomePersist writes the page document without review.
	OutcomePersist Outcome = "persist"
	// OutcomePauseForReview parks the run for human correction.
	OutcomePauseForReview Outcome = "pause_for_review"
)

// State inspects the accumulated failure signals, writes the validation
// flags and review verdict onto the state, and returns the route. Pure
// aggregation: unknown blocks, recorded cut failures, and lexically
// unalignable spans each contribute one flag; any flag at all demands
// review. Embedding-alignment failures surface through their span flags
// but do not gate on their own.
func State(st *page.State) Outcome {
	flags := make([]string, 0, 3)
	if len(st.UnknownBlockIDs) > 0 {
		flags = append(flags, page.ValidationUnknownBlocks)
	}
	if len(st.CutFailures) > 0 {
		flags = append(flags, page.ValidationCutFailures)
	}
	for _, sp := range st.Spans {
		if sp.HasFlag(page.FlagAlignFailed) {
			flags = append(flags, page.ValidationAlignFailures)
			break
		}
	}

	st.ValidationFlags = flags
	st.NeedsHumanReview = len(flags) > 0
	if st.NeedsHumanReview {
		return OutcomePauseForReview
	}
	return OutcomePersist
}
