// Package notify publishes the outcome of a run to the message broker.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/telhawk-systems/telhawk-etl/common/messaging"
)

// Event is the payload of a run notification.
type Event struct {
	RunID         string    `json:"run_id"`
	State         string    `json:"state"`
	Reason        string    `json:"reason,omitempty"`
	Records       int       `json:"records"`
	PrimaryKey    string    `json:"primary_key,omitempty"`
	HistoryKey    string    `json:"history_key,omitempty"`
	QuarantineKey string    `json:"quarantine_key,omitempty"`
	LogKey        string    `json:"log_key,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Notifier sends run events. A nil publisher makes every call a no-op.
type Notifier struct {
	publisher messaging.Publisher
}

// New returns a Notifier backed by publisher.
func New(publisher messaging.Publisher) *Notifier {
	return &Notifier{publisher: publisher}
}

// Enabled reports whether events are actually published.
func (n *Notifier) Enabled() bool {
	return n != nil && n.publisher != nil
}

// Subject picks the subject for a final state.
func Subject(aborted bool) string {
	if aborted {
		return messaging.SubjectRunAborted
	}
	return messaging.SubjectRunCompleted
}

// Notify publishes ev on the completed or aborted subject.
func (n *Notifier) Notify(ctx context.Context, ev Event, aborted bool) error {
	if !n.Enabled() {
		return nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}

	msg := &messaging.Message{
		Subject: Subject(aborted),
		Data:    data,
		Metadata: map[string]string{
			messaging.HeaderRunID: ev.RunID,
			messaging.HeaderState: ev.State,
		},
		Timestamp: ev.Timestamp,
	}
	if err := n.publisher.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish run event: %w", err)
	}

	// The process usually exits right after the final event.
	if f, ok := n.publisher.(messaging.Flusher); ok {
		if err := f.Flush(ctx); err != nil {
			return fmt.Errorf("flush run event: %w", err)
		}
	}
	return nil
}
