// Package dispatch decides whether, when, and how an archived campaign is
// sent. It holds the send orchestrator shared by all three triggers and the
// trigger run functions themselves.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/newsletter-dispatch/internal/archive"
	"github.com/ignite/newsletter-dispatch/internal/config"
	"github.com/ignite/newsletter-dispatch/internal/content"
	"github.com/ignite/newsletter-dispatch/internal/pkg/logger"
	"github.com/ignite/newsletter-dispatch/internal/resend"
	"github.com/ignite/newsletter-dispatch/internal/store"
)

// Mode selects destination resolution and subject decoration for a send.
type Mode string

const (
	// ModeTest sends to a fixed override destination with a [TEST] subject prefix.
	ModeTest Mode = "test"
	// ModeProduction sends to the record's own destination.
	ModeProduction Mode = "production"
)

// RecordStore is the archive record store contract the dispatch core needs.
type RecordStore interface {
	Get(ctx context.Context, coords archive.Coordinates) (*archive.Record, error)
	ListAll(ctx context.Context) ([]store.Entry, error)
	FindLatestByStatus(ctx context.Context, status archive.Status) (*store.Entry, error)
	Update(ctx context.Context, coords archive.Coordinates, patch store.Patch) error
}

// ContentLoader materializes a campaign's rendered HTML.
type ContentLoader interface {
	Load(ctx context.Context, coords archive.Coordinates) (string, error)
}

// Provider is the delivery provider contract: the two-phase broadcast
// protocol plus the segment lookups used by the test-dispatch summary.
type Provider interface {
	CreateBroadcast(ctx context.Context, params resend.CreateBroadcastParams) (string, error)
	SendBroadcast(ctx context.Context, broadcastID string) (string, error)
	GetSegment(ctx context.Context, segmentID string) (*resend.Segment, error)
	ListContacts(ctx context.Context, segmentID string, limit int) ([]resend.Contact, error)
}

// SendRequest describes one send attempt.
type SendRequest struct {
	Coords       archive.Coordinates
	BaseAssetURL string
	Mode         Mode
	// OverrideDestination replaces the record's destination. Mandatory in
	// test mode, ignored in production mode.
	OverrideDestination string
	// Preloaded skips the store read when the caller just selected the
	// record and already holds a fresh copy.
	Preloaded *archive.Record
}

// SendResult reports a completed send.
type SendResult struct {
	BroadcastID string
	Subject     string
	Destination string
}

// Orchestrator executes the shared send path: load content, rewrite asset
// paths, resolve the destination, run the two-phase provider protocol.
// It never mutates the archive record; state transitions belong to the
// triggers.
type Orchestrator struct {
	store    RecordStore
	content  ContentLoader
	provider Provider
	sender   config.ResendConfig
}

// NewOrchestrator wires the shared send path.
func NewOrchestrator(recordStore RecordStore, loader ContentLoader, provider Provider, sender config.ResendConfig) *Orchestrator {
	return &Orchestrator{
		store:    recordStore,
		content:  loader,
		provider: provider,
		sender:   sender,
	}
}

// Send executes one send attempt. Failures are typed by phase: *ContentError
// (terminal for the record), *CreateError (retry-safe), *SendPhaseError
// (orphaned broadcast left in the provider).
func (o *Orchestrator) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if req.Mode == ModeTest && req.OverrideDestination == "" {
		return nil, fmt.Errorf("test mode requires an override destination")
	}

	// 1. Resolve the record.
	rec := req.Preloaded
	if rec == nil {
		var err error
		rec, err = o.store.Get(ctx, req.Coords)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, &ContentError{Coords: req.Coords, Err: err}
			}
			return nil, fmt.Errorf("loading record for %s: %w", req.Coords, err)
		}
	}
	if err := rec.Validate(); err != nil {
		return nil, &ContentError{Coords: req.Coords, Err: fmt.Errorf("invalid record: %w", err)}
	}

	// 2. Load the rendered artifact.
	html, err := o.content.Load(ctx, req.Coords)
	if err != nil {
		return nil, &ContentError{Coords: req.Coords, Err: err}
	}

	// 3. Rewrite asset placeholders to public URLs.
	html = content.RewriteAssetPaths(html, req.BaseAssetURL, req.Coords)

	// 4. Resolve destination and decorate the subject.
	isTest := req.Mode == ModeTest
	destination := rec.Destination()
	from := o.sender.FromAddress()
	subject := rec.Subject
	name := "Broadcast - " + rec.Subject
	if isTest {
		destination = req.OverrideDestination
		from = o.sender.TestFromAddress()
		subject = "[TEST] " + rec.Subject
		name = "[TEST] Broadcast - " + rec.Subject
	}

	// 5. Two-phase provider protocol: create, then send.
	broadcastID, err := o.provider.CreateBroadcast(ctx, resend.CreateBroadcastParams{
		Name:      name,
		SegmentID: destination,
		From:      from,
		ReplyTo:   o.sender.ReplyTo,
		Subject:   subject,
		HTML:      html,
	})
	if err != nil {
		return nil, &CreateError{Coords: req.Coords, Err: err}
	}

	confirmationID, err := o.provider.SendBroadcast(ctx, broadcastID)
	if err != nil {
		logger.Error("broadcast created but not sent; manual cleanup required",
			"campaign", req.Coords.String(),
			"broadcast_id", broadcastID)
		return nil, &SendPhaseError{Coords: req.Coords, BroadcastID: broadcastID, Err: err}
	}

	return &SendResult{
		BroadcastID: confirmationID,
		Subject:     subject,
		Destination: destination,
	}, nil
}
