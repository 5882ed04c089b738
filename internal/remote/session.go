package remote

import (
	"context"

	"github.com/itcshield/itc/internal/intake"
	"github.com/itcshield/itc/internal/recon"
	"golang.org/x/sync/semaphore"
)

// Submitter is the part of Client a Session drives.
type Submitter interface {
	Submit(ctx context.Context, p *intake.Payload) (*JobHandle, error)
	Reconcile(ctx context.Context, p *intake.Payload) (*recon.Payload, error)
}

// Session allows one upload in flight at a time. A second call made while
// the first is unresolved fails fast with ErrSubmissionInFlight instead of
// creating a duplicate job.
type Session struct {
	client Submitter
	slot   *semaphore.Weighted
}

// NewSession wraps a submitter.
func NewSession(client Submitter) *Session {
	return &Session{client: client, slot: semaphore.NewWeighted(1)}
}

// Submit uploads a vendor batch.
func (s *Session) Submit(ctx context.Context, p *intake.Payload) (*JobHandle, error) {
	if !s.slot.TryAcquire(1) {
		return nil, ErrSubmissionInFlight
	}
	defer s.slot.Release(1)
	return s.client.Submit(ctx, p)
}

// Reconcile uploads a purchase register.
func (s *Session) Reconcile(ctx context.Context, p *intake.Payload) (*recon.Payload, error) {
	if !s.slot.TryAcquire(1) {
		return nil, ErrSubmissionInFlight
	}
	defer s.slot.Release(1)
	return s.client.Reconcile(ctx, p)
}
