// Package votes implements the two upvote ledgers. Both share the
// composite-key fact mechanism and the atomic upvotes counter; they differ
// only in whether a vote can be taken back.
package votes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campus-talks/backend/internal/apperr"
	"github.com/campus-talks/backend/internal/counter"
	"github.com/campus-talks/backend/internal/ledger"
	"github.com/campus-talks/backend/internal/models"
	"github.com/campus-talks/backend/pkg/docstore"
)

// VoteLedger is the shared capability behind both flavors.
type VoteLedger struct {
	store   docstore.Store
	facts   *ledger.Ledger
	counter *counter.Atomic
	now     func() time.Time
}

// NewVoteLedger wires the upvote ledger and the sessions upvotes counter.
func NewVoteLedger(store docstore.Store) *VoteLedger {
	return &VoteLedger{
		store:   store,
		facts:   ledger.New(store, models.CollectionSessionUpvotes),
		counter: counter.NewAtomic(store, models.CollectionSessions, "upvotes"),
		now:     time.Now,
	}
}

// SetClock overrides the fact timestamp source.
func (v *VoteLedger) SetClock(now func() time.Time) { v.now = now }

// Permanent returns the ranking flavor.
func (v *VoteLedger) Permanent() *PermanentVote { return &PermanentVote{v: v} }

// Toggleable returns the browsing flavor.
func (v *VoteLedger) Toggleable() *ToggleableVote { return &ToggleableVote{v: v} }

// Has reports whether userID holds a vote of kind on sessionID.
func (v *VoteLedger) Has(ctx context.Context, kind models.VoteKind, sessionID, userID string) (bool, error) {
	var u models.Upvote
	err := v.facts.Get(ctx, factID(kind, sessionID, userID), &u)
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Count returns the number of upvote facts for sessionID across both flavors.
func (v *VoteLedger) Count(ctx context.Context, sessionID string) (int, error) {
	return v.facts.Count(ctx, docstore.Eq("sessionId", sessionID))
}

func factID(kind models.VoteKind, sessionID, userID string) string {
	if kind == models.VoteToggleable {
		return docstore.Key(userID, sessionID)
	}
	return docstore.Key(sessionID, userID)
}

func (v *VoteLedger) session(ctx context.Context, sessionID string) (int, models.SessionStatus, error) {
	doc, err := v.store.Get(ctx, models.CollectionSessions, sessionID)
	if errors.Is(err, docstore.ErrNotFound) {
		return 0, "", apperr.New(apperr.KindNotFound, "session %s not found", sessionID)
	}
	if err != nil {
		return 0, "", err
	}
	var sess struct {
		Status models.SessionStatus `json:"status"`
	}
	if err := doc.Decode(&sess); err != nil {
		return 0, "", err
	}
	n, err := counter.Value(doc, "upvotes")
	return n, sess.Status, err
}

func (v *VoteLedger) current(ctx context.Context, sessionID string) (int, error) {
	n, _, err := v.session(ctx, sessionID)
	return n, err
}

// recordWrite creates the fact; it fails when the fact already exists.
func (v *VoteLedger) recordWrite(kind models.VoteKind, sessionID, userID string) docstore.Write {
	id := factID(kind, sessionID, userID)
	return docstore.Write{
		Kind:       docstore.WriteCreate,
		Collection: models.CollectionSessionUpvotes,
		ID:         id,
		Data: models.Upvote{
			ID: id, SessionID: sessionID, UserID: userID, Kind: kind, CreatedAt: v.now().UTC(),
		},
	}
}

// removeWrite deletes the fact; it fails when the fact is already gone.
func (v *VoteLedger) removeWrite(kind models.VoteKind, sessionID, userID string) docstore.Write {
	return docstore.Write{
		Kind:       docstore.WriteDelete,
		Collection: models.CollectionSessionUpvotes,
		ID:         factID(kind, sessionID, userID),
	}
}

// rejected reports whether the batch failed on the document id.
func rejected(err error, id string) bool {
	var batchErr *docstore.BatchError
	if !errors.As(err, &batchErr) {
		return false
	}
	for _, f := range batchErr.Failed {
		if f == id {
			return true
		}
	}
	return false
}

// PermanentVote is the ranking upvote. There is no retraction path, which
// keeps rapid toggling from moving the ranking.
type PermanentVote struct{ v *VoteLedger }

// Upvote records the vote and returns the new count. A repeat vote returns
// AlreadyUpvoted and leaves the counter alone. Only proposed topics take
// ranking votes; any other status returns InvalidTransition.
func (p *PermanentVote) Upvote(ctx context.Context, sessionID, userID string) (int, error) {
	fact := p.v.recordWrite(models.VotePermanent, sessionID, userID)
	err := p.v.store.Batch(ctx, []docstore.Write{
		fact,
		p.v.counter.Step(sessionID, 1, docstore.Eq("status", models.SessionProposed)),
	})
	if err == nil {
		return p.v.current(ctx, sessionID)
	}
	if !errors.Is(err, docstore.ErrConditionFailed) {
		return 0, fmt.Errorf("record upvote: %w", err)
	}
	n, status, serr := p.v.session(ctx, sessionID)
	if serr != nil {
		return 0, serr
	}
	if rejected(err, fact.ID) {
		return n, apperr.New(apperr.KindAlreadyUpvoted, "you already upvoted this topic")
	}
	if status != models.SessionProposed {
		return n, apperr.New(apperr.KindInvalidTransition, "only proposed topics can be upvoted, this one is %s", status)
	}
	return n, fmt.Errorf("record upvote: %w", err)
}

// ToggleableVote is the browsing upvote: the second toggle removes the vote.
type ToggleableVote struct{ v *VoteLedger }

// toggleAttempts bounds the retries when a concurrent toggle by the same
// user flips the fact between the read and the batch.
const toggleAttempts = 5

// Toggle adds the vote when absent and removes it when present. It reports
// whether the caller holds a vote afterwards and the new count. The fact
// and the counter step commit in one batch, so the counter never drifts
// from the facts.
func (t *ToggleableVote) Toggle(ctx context.Context, sessionID, userID string) (bool, int, error) {
	for attempt := 0; attempt < toggleAttempts; attempt++ {
		if _, err := t.v.current(ctx, sessionID); err != nil {
			return false, 0, err
		}
		has, err := t.v.Has(ctx, models.VoteToggleable, sessionID, userID)
		if err != nil {
			return false, 0, err
		}
		fact, delta := t.v.recordWrite(models.VoteToggleable, sessionID, userID), int64(1)
		if has {
			fact, delta = t.v.removeWrite(models.VoteToggleable, sessionID, userID), -1
		}
		err = t.v.store.Batch(ctx, []docstore.Write{fact, t.v.counter.Step(sessionID, delta)})
		if rejected(err, fact.ID) {
			continue
		}
		if err != nil {
			return false, 0, fmt.Errorf("toggle upvote: %w", err)
		}
		n, err := t.v.current(ctx, sessionID)
		return !has, n, err
	}
	return false, 0, fmt.Errorf("toggle upvote on %s: fact kept changing underneath", sessionID)
}
