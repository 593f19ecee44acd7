package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ignite/newsletter-dispatch/internal/archive"
	"github.com/ignite/newsletter-dispatch/internal/config"
	"github.com/ignite/newsletter-dispatch/internal/content"
	"github.com/ignite/newsletter-dispatch/internal/resend"
	"github.com/ignite/newsletter-dispatch/internal/store"
)

// Shared in-memory fakes for the trigger and orchestrator tests.

const testSegmentID = "0f0e4a70-9aab-4c8a-b53f-6fefe42a7b11"
const prodSegmentID = "a355a0bd-32fa-4ef4-b6d5-7341f702d35b"

type fakeStore struct {
	records  map[string]*archive.Record
	modified map[string]time.Time
	updates  []string // coordinate paths, in order
	failGet  bool
	failList bool
	// failUpdateFor fails Update for the given coordinate path.
	failUpdateFor string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:  make(map[string]*archive.Record),
		modified: make(map[string]time.Time),
	}
}

func (f *fakeStore) put(coords archive.Coordinates, rec archive.Record, modified time.Time) {
	r := rec
	f.records[coords.Path()] = &r
	f.modified[coords.Path()] = modified
}

func (f *fakeStore) Get(ctx context.Context, coords archive.Coordinates) (*archive.Record, error) {
	if f.failGet {
		return nil, errors.New("store unavailable")
	}
	rec, ok := f.records[coords.Path()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, coords.ConfigKey())
	}
	r := *rec
	return &r, nil
}

func (f *fakeStore) ListAll(ctx context.Context) ([]store.Entry, error) {
	if f.failList {
		return nil, errors.New("store unavailable")
	}
	var entries []store.Entry
	for path, rec := range f.records {
		coords, _ := archive.ParseConfigKey(path + "/config.json")
		entries = append(entries, store.Entry{Coords: coords, Record: *rec, LastModified: f.modified[path]})
	}
	return entries, nil
}

func (f *fakeStore) FindLatestByStatus(ctx context.Context, status archive.Status) (*store.Entry, error) {
	entries, err := f.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].LastModified.Equal(entries[j].LastModified) {
			return entries[i].LastModified.After(entries[j].LastModified)
		}
		return entries[i].Coords.Path() > entries[j].Coords.Path()
	})
	for _, e := range entries {
		if e.Record.EffectiveStatus().Terminal() {
			continue
		}
		if e.Record.EffectiveStatus() == status {
			entry := e
			return &entry, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) Update(ctx context.Context, coords archive.Coordinates, patch store.Patch) error {
	if coords.Path() == f.failUpdateFor {
		return errors.New("write denied")
	}
	rec, ok := f.records[coords.Path()]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, coords.ConfigKey())
	}
	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	if patch.SentAt != nil {
		t := *patch.SentAt
		rec.SentAt = &t
	}
	f.updates = append(f.updates, coords.Path())
	return nil
}

type fakeLoader struct {
	html map[string]string // by coordinate path
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{html: make(map[string]string)}
}

func (f *fakeLoader) Load(ctx context.Context, coords archive.Coordinates) (string, error) {
	html, ok := f.html[coords.Path()]
	if !ok {
		return "", fmt.Errorf("%w: %s", content.ErrContentMissing, coords.HTMLKey())
	}
	return html, nil
}

type createCall struct {
	params resend.CreateBroadcastParams
}

type fakeProvider struct {
	creates    []createCall
	sends      []string
	failCreate bool
	failSend   bool
	nextID     int
}

func (f *fakeProvider) CreateBroadcast(ctx context.Context, params resend.CreateBroadcastParams) (string, error) {
	if f.failCreate {
		return "", errors.New("invalid destination")
	}
	f.nextID++
	f.creates = append(f.creates, createCall{params: params})
	return fmt.Sprintf("bc_%d", f.nextID), nil
}

func (f *fakeProvider) SendBroadcast(ctx context.Context, broadcastID string) (string, error) {
	if f.failSend {
		return "", errors.New("sending disabled")
	}
	f.sends = append(f.sends, broadcastID)
	return broadcastID, nil
}

func (f *fakeProvider) GetSegment(ctx context.Context, segmentID string) (*resend.Segment, error) {
	return &resend.Segment{ID: segmentID, Name: "Test reviewers"}, nil
}

func (f *fakeProvider) ListContacts(ctx context.Context, segmentID string, limit int) ([]resend.Contact, error) {
	return []resend.Contact{
		{ID: "c1", Email: "reviewer.one@example.com"},
		{ID: "c2", Email: "reviewer.two@example.com"},
	}, nil
}

type fixture struct {
	store    *fakeStore
	loader   *fakeLoader
	provider *fakeProvider
	disp     *Dispatcher
	now      time.Time
}

func newFixture() *fixture {
	st := newFakeStore()
	loader := newFakeLoader()
	provider := &fakeProvider{}

	sender := config.ResendConfig{
		FromEmail: "news@example.com",
		FromName:  "Example News",
		ReplyTo:   "reply@example.com",
	}
	orch := NewOrchestrator(st, loader, provider, sender)

	disp := NewDispatcher(st, orch, provider, nil, "https://cdn.example.com", config.DispatchConfig{
		TestSegmentID:    testSegmentID,
		RecipientSamples: 3,
	}, 5*time.Minute)

	now := time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)
	disp.SetClock(func() time.Time { return now })

	return &fixture{store: st, loader: loader, provider: provider, disp: disp, now: now}
}

func (fx *fixture) addCampaign(ddSlug string, rec archive.Record) archive.Coordinates {
	coords := archive.Coordinates{YYYY: "2026", MM: "01", DDSlug: ddSlug}
	fx.store.put(coords, rec, fx.now.Add(-time.Hour))
	fx.loader.html[coords.Path()] = `<html><img src="/mail-assets/photo.png"></html>`
	return coords
}

func testedRecord(scheduledAt *time.Time) archive.Record {
	return archive.Record{
		Subject:     "January Sale",
		SegmentID:   prodSegmentID,
		ScheduledAt: scheduledAt,
		Status:      archive.StatusTested,
	}
}

func timePtr(t time.Time) *time.Time { return &t }
