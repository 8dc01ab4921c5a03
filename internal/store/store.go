// Package store defines the persistence boundary for finalized utterances.
// Storage is optional: when no backend is configured the pipeline runs with
// [Noop] and utterances are only logged.
package store

import (
	"context"
	"time"
)

// Utterance is one transcribed speech segment as persisted.
type Utterance struct {
	// CorrelationID ties the record back to the pipeline segment.
	CorrelationID string

	SpeakerID  string
	Transcript string

	// WakePhrase and WakeSource are set when the utterance triggered a wake
	// detection; both empty otherwise.
	WakePhrase string
	WakeSource string

	Start    time.Time
	End      time.Time
	Duration time.Duration
}

// Store persists utterances. Implementations must be safe for concurrent
// use. Failures are per-utterance: the caller logs and moves on.
type Store interface {
	// SaveUtterance appends one utterance record.
	SaveUtterance(ctx context.Context, u Utterance) error

	// RecentUtterances returns up to limit utterances for the speaker,
	// newest first. An empty speakerID returns utterances for all speakers.
	RecentUtterances(ctx context.Context, speakerID string, limit int) ([]Utterance, error)

	// Close releases the backing resources.
	Close()
}

// Compile-time interface assertion.
var _ Store = (*Noop)(nil)

// Noop is the Store used when persistence is not configured. Saves succeed
// and queries return nothing.
type Noop struct{}

// SaveUtterance implements [Store].
func (Noop) SaveUtterance(context.Context, Utterance) error { return nil }

// RecentUtterances implements [Store].
func (Noop) RecentUtterances(context.Context, string, int) ([]Utterance, error) {
	return nil, nil
}

// Close implements [Store].
func (Noop) Close() {}
