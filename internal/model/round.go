package model

import "time"

// Round is an append-only audit snapshot of one consensus round: the block
// chosen, the offers tested, the outcomes, and the state counts before and
// after. Rounds are written for reporting and debugging; the controller
// never reads them back.
type Round struct {
	Number    int                `json:"number"`
	Tolerance float64            `json:"tolerance"` // percent in effect during this round
	Block     *Block             `json:"block,omitempty"`
	Tested    []ValidationResult `json:"tested,omitempty"`

	ValidatedBefore int `json:"validated_before"`
	ValidatedAfter  int `json:"validated_after"`
	DiscardedAfter  int `json:"discarded_after"`
	PendingAfter    int `json:"pending_after"`

	Escalated bool      `json:"escalated"` // tolerance was raised at the end of this round
	At        time.Time `json:"at"`
}
