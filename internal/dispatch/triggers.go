package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ignite/newsletter-dispatch/internal/archive"
	"github.com/ignite/newsletter-dispatch/internal/config"
	"github.com/ignite/newsletter-dispatch/internal/pkg/distlock"
	"github.com/ignite/newsletter-dispatch/internal/pkg/logger"
	"github.com/ignite/newsletter-dispatch/internal/store"
)

// Report summarizes one trigger invocation.
type Report struct {
	// Attempted counts records a send was tried for.
	Attempted int
	// Delivered counts successful sends (including test sends).
	Delivered int
	// Deferred counts records parked for the scheduled trigger.
	Deferred int
	// Skipped counts records another invocation held the lease on.
	Skipped int
	// Failed counts records whose send or write-back failed.
	Failed int
	// Errors holds the per-record failure, keyed by coordinate path.
	Errors map[string]error
}

func newReport() *Report {
	return &Report{Errors: make(map[string]error)}
}

// NoOp reports whether the invocation found nothing to do.
func (r *Report) NoOp() bool {
	return r.Attempted == 0 && r.Deferred == 0 && r.Skipped == 0
}

// Dispatcher runs the three trigger entry points against one shared
// orchestrator. Each trigger is a short-lived, single-threaded batch run.
type Dispatcher struct {
	store        RecordStore
	orchestrator *Orchestrator
	provider     Provider
	locker       *distlock.Locker // nil when no lease backend is configured
	baseAssetURL string
	dispatchCfg  config.DispatchConfig
	window       time.Duration
	now          func() time.Time
}

// NewDispatcher wires a dispatcher. locker may be nil; the triggers then rely
// on the cooperative status/sentAt gate alone, which does not exclude
// overlapping invocations.
func NewDispatcher(
	recordStore RecordStore,
	orchestrator *Orchestrator,
	provider Provider,
	locker *distlock.Locker,
	baseAssetURL string,
	dispatchCfg config.DispatchConfig,
	window time.Duration,
) *Dispatcher {
	return &Dispatcher{
		store:        recordStore,
		orchestrator: orchestrator,
		provider:     provider,
		locker:       locker,
		baseAssetURL: strings.TrimRight(baseAssetURL, "/"),
		dispatchCfg:  dispatchCfg,
		window:       window,
		now:          time.Now,
	}
}

// SetClock injects a deterministic clock (used by tests).
func (d *Dispatcher) SetClock(now func() time.Time) { d.now = now }

// RunTest selects the latest pending campaign and sends it to the fixed test
// destination. Success advances the record to tested and logs a reviewer
// summary. No candidate is a successful no-op.
func (d *Dispatcher) RunTest(ctx context.Context) (*Report, error) {
	report := newReport()

	if d.dispatchCfg.TestSegmentID == "" {
		return report, fmt.Errorf("no test destination configured")
	}

	entry, err := d.store.FindLatestByStatus(ctx, archive.StatusPending)
	if err != nil {
		return report, err
	}
	if entry == nil {
		logger.Info("no pending campaign; nothing to test-send")
		return report, nil
	}

	release, acquired, err := d.acquireLease(ctx, entry.Coords)
	if err != nil {
		return report, err
	}
	if !acquired {
		logger.Info("campaign leased by another invocation; skipping", "campaign", entry.Coords.String())
		report.Skipped++
		return report, nil
	}
	defer release()

	report.Attempted++
	rec := entry.Record
	result, err := d.orchestrator.Send(ctx, SendRequest{
		Coords:              entry.Coords,
		BaseAssetURL:        d.baseAssetURL,
		Mode:                ModeTest,
		OverrideDestination: d.dispatchCfg.TestSegmentID,
		Preloaded:           &rec,
	})
	if err != nil {
		report.Failed++
		report.Errors[entry.Coords.String()] = err
		return report, err
	}

	tested := archive.StatusTested
	if err := d.store.Update(ctx, entry.Coords, store.Patch{Status: &tested}); err != nil {
		updateErr := &StoreUpdateError{Coords: entry.Coords, BroadcastID: result.BroadcastID, Err: err}
		logger.Error("send succeeded but status write-back failed",
			"campaign", entry.Coords.String(),
			"broadcast_id", result.BroadcastID,
			"error", err.Error())
		report.Failed++
		report.Errors[entry.Coords.String()] = updateErr
		return report, updateErr
	}

	report.Delivered++
	d.logTestSummary(ctx, entry.Coords, result)
	return report, nil
}

// logTestSummary emits the reviewer-facing delivery confirmation: destination
// name, a masked sample of recipients, and the test broadcast id. Reporting
// only; failures here never fail the trigger.
func (d *Dispatcher) logTestSummary(ctx context.Context, coords archive.Coordinates, result *SendResult) {
	destinationName := result.Destination
	if seg, err := d.provider.GetSegment(ctx, result.Destination); err != nil {
		logger.Warn("could not resolve test destination name", "error", err.Error())
	} else {
		destinationName = seg.Name
	}

	var sample []string
	if contacts, err := d.provider.ListContacts(ctx, result.Destination, d.dispatchCfg.RecipientSamples); err != nil {
		logger.Warn("could not list test recipients", "error", err.Error())
	} else {
		for _, c := range contacts {
			sample = append(sample, logger.MaskEmail(c.Email))
		}
	}

	logger.Info("test delivery confirmation",
		"campaign", coords.String(),
		"destination", destinationName,
		"recipient_sample", strings.Join(sample, ", "),
		"broadcast_id", result.BroadcastID,
		"subject", result.Subject)
}

// RunProduction selects the latest tested campaign and either sends it now or
// parks it for the scheduled trigger when scheduledAt is still in the future.
// The parking transition persists even though no send occurred, so subsequent
// merges do not re-select the same record. No candidate is a successful no-op.
func (d *Dispatcher) RunProduction(ctx context.Context) (*Report, error) {
	report := newReport()

	entry, err := d.store.FindLatestByStatus(ctx, archive.StatusTested)
	if err != nil {
		return report, err
	}
	if entry == nil {
		logger.Info("no tested campaign; nothing to dispatch")
		return report, nil
	}

	release, acquired, err := d.acquireLease(ctx, entry.Coords)
	if err != nil {
		return report, err
	}
	if !acquired {
		logger.Info("campaign leased by another invocation; skipping", "campaign", entry.Coords.String())
		report.Skipped++
		return report, nil
	}
	defer release()

	now := d.now()
	rec := entry.Record

	if rec.ScheduledAt != nil && rec.ScheduledAt.After(now) {
		waiting := archive.StatusWaitingSchedule
		if err := d.store.Update(ctx, entry.Coords, store.Patch{Status: &waiting}); err != nil {
			report.Failed++
			report.Errors[entry.Coords.String()] = err
			return report, fmt.Errorf("parking campaign %s for scheduled delivery: %w", entry.Coords, err)
		}
		logger.Info("campaign parked for scheduled delivery",
			"campaign", entry.Coords.String(),
			"scheduled_at", rec.ScheduledAt.UTC().Format(time.RFC3339))
		report.Deferred++
		return report, nil
	}

	if rec.ScheduledAt != nil {
		logger.Warn("scheduled time already passed; sending immediately",
			"campaign", entry.Coords.String(),
			"scheduled_at", rec.ScheduledAt.UTC().Format(time.RFC3339))
	}

	report.Attempted++
	result, err := d.orchestrator.Send(ctx, SendRequest{
		Coords:       entry.Coords,
		BaseAssetURL: d.baseAssetURL,
		Mode:         ModeProduction,
		Preloaded:    &rec,
	})
	if err != nil {
		report.Failed++
		report.Errors[entry.Coords.String()] = err
		return report, err
	}

	if err := d.markSent(ctx, entry.Coords, archive.StatusDelivered, now, result.BroadcastID); err != nil {
		report.Failed++
		report.Errors[entry.Coords.String()] = err
		return report, err
	}

	logger.Info("production delivery complete",
		"campaign", entry.Coords.String(),
		"broadcast_id", result.BroadcastID,
		"destination", result.Destination,
		"subject", result.Subject)
	report.Delivered++
	return report, nil
}

// RunScheduled sends every campaign whose scheduled time fell inside the due
// window. Records are processed strictly sequentially and failures are
// isolated per record; the invocation fails only after the whole batch, and
// only if at least one record failed.
func (d *Dispatcher) RunScheduled(ctx context.Context) (*Report, error) {
	report := newReport()
	now := d.now()

	entries, err := d.store.ListAll(ctx)
	if err != nil {
		return report, err
	}

	var due []store.Entry
	for _, e := range entries {
		if e.Record.Due(now, d.window) {
			due = append(due, e)
		}
	}
	// Oldest schedule first; stable across invocations.
	sort.Slice(due, func(i, j int) bool {
		if !due[i].Record.ScheduledAt.Equal(*due[j].Record.ScheduledAt) {
			return due[i].Record.ScheduledAt.Before(*due[j].Record.ScheduledAt)
		}
		return due[i].Coords.Path() < due[j].Coords.Path()
	})

	if len(due) == 0 {
		logger.Info("no campaigns due", "checked", fmt.Sprintf("%d", len(entries)))
		return report, nil
	}
	logger.Info("scheduled dispatch starting", "due", fmt.Sprintf("%d", len(due)))

	for _, e := range due {
		d.sendScheduled(ctx, e, report)
	}

	logger.Info("scheduled dispatch finished",
		"delivered", fmt.Sprintf("%d", report.Delivered),
		"failed", fmt.Sprintf("%d", report.Failed),
		"skipped", fmt.Sprintf("%d", report.Skipped))

	if report.Failed > 0 {
		return report, fmt.Errorf("%d of %d due campaigns failed", report.Failed, len(due))
	}
	return report, nil
}

// sendScheduled processes one due campaign, recording but not propagating
// its failure so the rest of the batch still runs.
func (d *Dispatcher) sendScheduled(ctx context.Context, e store.Entry, report *Report) {
	release, acquired, err := d.acquireLease(ctx, e.Coords)
	if err != nil {
		report.Failed++
		report.Errors[e.Coords.String()] = err
		return
	}
	if !acquired {
		logger.Info("campaign leased by another invocation; skipping", "campaign", e.Coords.String())
		report.Skipped++
		return
	}
	defer release()

	report.Attempted++
	rec := e.Record
	result, err := d.orchestrator.Send(ctx, SendRequest{
		Coords:       e.Coords,
		BaseAssetURL: d.baseAssetURL,
		Mode:         ModeProduction,
		Preloaded:    &rec,
	})
	if err != nil {
		logger.Error("scheduled delivery failed",
			"campaign", e.Coords.String(),
			"error", err.Error())
		report.Failed++
		report.Errors[e.Coords.String()] = err
		return
	}

	if err := d.markSent(ctx, e.Coords, archive.StatusScheduleDelivered, d.now(), result.BroadcastID); err != nil {
		report.Failed++
		report.Errors[e.Coords.String()] = err
		return
	}

	logger.Info("scheduled delivery complete",
		"campaign", e.Coords.String(),
		"broadcast_id", result.BroadcastID,
		"subject", result.Subject)
	report.Delivered++
}

// markSent persists the terminal transition after a successful send. A
// failure here is the most dangerous error class: the send happened but the
// idempotency guard is not durable, so it is logged at ERROR and returned.
func (d *Dispatcher) markSent(ctx context.Context, coords archive.Coordinates, status archive.Status, sentAt time.Time, broadcastID string) error {
	if err := d.store.Update(ctx, coords, store.Patch{Status: &status, SentAt: &sentAt}); err != nil {
		updateErr := &StoreUpdateError{Coords: coords, BroadcastID: broadcastID, Err: err}
		logger.Error("send succeeded but status write-back failed",
			"campaign", coords.String(),
			"broadcast_id", broadcastID,
			"error", err.Error())
		return updateErr
	}
	return nil
}

// acquireLease takes the per-campaign single-writer lease when a lease
// backend is configured. Without one, dispatch falls back to the cooperative
// status gate and every caller proceeds.
func (d *Dispatcher) acquireLease(ctx context.Context, coords archive.Coordinates) (release func(), acquired bool, err error) {
	if d.locker == nil {
		return func() {}, true, nil
	}

	lease := d.locker.Lease("dispatch:" + coords.Path())
	ok, err := lease.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquiring dispatch lease for %s: %w", coords, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		if err := lease.Release(ctx); err != nil {
			logger.Warn("releasing dispatch lease failed", "campaign", coords.String(), "error", err.Error())
		}
	}, true, nil
}
