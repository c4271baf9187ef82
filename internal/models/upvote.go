package models

import "time"

// VoteKind distinguishes the two upvote ledgers.
type VoteKind string

const (
	// VotePermanent is the ranking vote: never retracted.
	VotePermanent VoteKind = "permanent"
	// VoteToggleable is the browsing vote: may be removed again.
	VoteToggleable VoteKind = "toggleable"
)

// Upvote is the ledger fact that one user upvoted one session.
type Upvote struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Kind      VoteKind  `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}
