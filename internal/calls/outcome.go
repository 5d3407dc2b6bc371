package calls

import "strings"

// Outcome is the exhaustive classification of a record for aggregation.
// Every record maps to exactly one outcome.
type Outcome string

const (
	OutcomeSuccessful   Outcome = "successful"
	OutcomeUnsuccessful Outcome = "unsuccessful"
	OutcomeErrored      Outcome = "errored"
	OutcomeInProgress   Outcome = "in_progress"
	OutcomeOther        Outcome = "other"
)

// OutcomeOf classifies r. A positive callSuccessful wins over status; an
// ended call that is not known to be successful counts as unsuccessful;
// provider failures are errored rather than unsuccessful.
func OutcomeOf(r Record) Outcome {
	if r.Successful() {
		return OutcomeSuccessful
	}
	switch Status(strings.ToLower(string(r.Status))) {
	case StatusEnded:
		return OutcomeUnsuccessful
	case StatusFailed, StatusError:
		return OutcomeErrored
	case StatusRegistered, StatusOngoing, StatusInProgress:
		return OutcomeInProgress
	default:
		return OutcomeOther
	}
}
