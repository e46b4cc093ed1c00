package thread

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"leadrelay/internal/models"
)

// WorkflowStates is the fixed total order of thread workflow states.
// Transitions may only land on the suffix starting at the current state.
var WorkflowStates = []string{
	"new",
	"qualifying",
	"photos_received",
	"estimated",
	"offered_times",
	"booked",
	"reminder",
	"completed",
	"review",
}

var stateRank = func() map[string]int {
	m := make(map[string]int, len(WorkflowStates))
	for i, s := range WorkflowStates {
		m[s] = i
	}
	return m
}()

// ErrUnknownState marks a state name outside the workflow order.
type ErrUnknownState struct{ State string }

func (e ErrUnknownState) Error() string { return fmt.Sprintf("unknown workflow state %q", e.State) }

// ErrBackwardTransition marks a rejected regression in the workflow order.
type ErrBackwardTransition struct{ From, To string }

func (e ErrBackwardTransition) Error() string {
	return fmt.Sprintf("workflow state cannot move backward from %q to %q", e.From, e.To)
}

// Validate checks a proposed transition. Equal states are a permitted no-op;
// anything strictly earlier in the order is rejected.
func Validate(current, target string) error {
	cur, ok := stateRank[current]
	if !ok {
		return ErrUnknownState{State: current}
	}
	tgt, ok := stateRank[target]
	if !ok {
		return ErrUnknownState{State: target}
	}
	if tgt < cur {
		return ErrBackwardTransition{From: current, To: target}
	}
	return nil
}

// Store applies workflow transitions and status changes to persisted threads.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

// Transition advances a thread's workflow state. Rejected transitions leave
// the row untouched. Every accepted change stamps StateUpdatedAt, including
// the no-op case so "still here" reviews are visible.
func (s *Store) Transition(threadID uint, target string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var t models.ConversationThread
		if err := tx.First(&t, threadID).Error; err != nil {
			return fmt.Errorf("load thread %d: %w", threadID, err)
		}
		if err := Validate(t.State, target); err != nil {
			return err
		}
		if err := tx.Model(&t).Updates(map[string]interface{}{
			"state":            target,
			"state_updated_at": time.Now().UTC(),
		}).Error; err != nil {
			return fmt.Errorf("update thread %d state: %w", threadID, err)
		}
		log.Info().Uint("threadID", threadID).Str("from", t.State).Str("to", target).Msg("Thread workflow state advanced")
		return nil
	})
}

// SetStatus updates the open/pending/closed status, which is orthogonal to
// the workflow state and unconstrained in direction. Reopening a closed
// thread starts a fresh engagement, so the inbound counter resets.
func (s *Store) SetStatus(threadID uint, status string) error {
	switch status {
	case models.StatusOpen, models.StatusPending, models.StatusClosed:
	default:
		return fmt.Errorf("unknown thread status %q", status)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		var t models.ConversationThread
		if err := tx.First(&t, threadID).Error; err != nil {
			return fmt.Errorf("load thread %d: %w", threadID, err)
		}
		updates := map[string]interface{}{"status": status}
		if t.Status == models.StatusClosed && status == models.StatusOpen {
			updates["inbound_count"] = 0
		}
		return tx.Model(&t).Updates(updates).Error
	})
}

// RecordInbound notes a genuine inbound message on a thread: bumps the
// engagement counter, refreshes activity timestamps and clears the DM
// expired flag (a fresh inbound reopens the platform window).
func (s *Store) RecordInbound(threadID uint, at time.Time) error {
	return s.db.Model(&models.ConversationThread{}).
		Where("id = ?", threadID).
		Updates(map[string]interface{}{
			"last_inbound_at": at,
			"last_message_at": at,
			"inbound_count":   gorm.Expr("inbound_count + 1"),
			"expired":         false,
		}).Error
}

// MarkExpired flags a DM thread past the platform messaging window.
func (s *Store) MarkExpired(threadID uint) error {
	return s.db.Model(&models.ConversationThread{}).
		Where("id = ?", threadID).
		Update("expired", true).Error
}
