package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"paisa/internal/core"
	"paisa/internal/storage"
)

// fakeStore implements TemplateStore and SweepStore in memory with the
// same conditional-advance semantics as the SQLite repository.
type fakeStore struct {
	mu          sync.Mutex
	templates   map[int64]*core.Template
	entries     []core.Entry
	nextTplID   int64
	nextEntryID int64

	// generateErr injects a failure for specific template ids.
	generateErr map[int64]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		templates:   make(map[int64]*core.Template),
		generateErr: make(map[int64]error),
	}
}

func (f *fakeStore) CreateTemplate(_ context.Context, tpl core.Template) (core.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTplID++
	tpl.ID = f.nextTplID
	cp := tpl
	f.templates[tpl.ID] = &cp
	return tpl, nil
}

func (f *fakeStore) GetTemplate(_ context.Context, ownerID string, id int64) (*core.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tpl, ok := f.templates[id]
	if !ok || tpl.OwnerID != ownerID {
		return nil, core.ErrNotFound
	}
	cp := *tpl
	return &cp, nil
}

func (f *fakeStore) UpdateTemplate(_ context.Context, tpl core.Template) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.templates[tpl.ID]
	if !ok || cur.OwnerID != tpl.OwnerID {
		return core.ErrNotFound
	}
	cp := tpl
	f.templates[tpl.ID] = &cp
	return nil
}

func (f *fakeStore) DeleteTemplate(_ context.Context, ownerID string, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tpl, ok := f.templates[id]
	if !ok || tpl.OwnerID != ownerID {
		return core.ErrNotFound
	}
	delete(f.templates, id)
	return nil
}

func (f *fakeStore) ListTemplates(_ context.Context, ownerID string) ([]core.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.Template
	for _, tpl := range f.templates {
		if tpl.OwnerID == ownerID {
			out = append(out, *tpl)
		}
	}
	return out, nil
}

func (f *fakeStore) EndTemplate(_ context.Context, ownerID string, id int64, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tpl, ok := f.templates[id]
	if !ok || tpl.OwnerID != ownerID {
		return core.ErrNotFound
	}
	if tpl.NextOccurrence == nil {
		return core.ErrAlreadyEnded
	}
	end := now
	tpl.NextOccurrence = nil
	tpl.EndDate = &end
	return nil
}

func (f *fakeStore) ListEntries(_ context.Context, templateID int64) ([]core.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.Entry
	for _, e := range f.entries {
		if e.TemplateID != nil && *e.TemplateID == templateID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) DueTemplates(_ context.Context, now time.Time) ([]core.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.Template
	for _, tpl := range f.templates {
		if tpl.NextOccurrence == nil || tpl.NextOccurrence.After(now) {
			continue
		}
		if tpl.EndDate != nil && tpl.EndDate.Before(now) {
			continue
		}
		out = append(out, *tpl)
	}
	return out, nil
}

func (f *fakeStore) GenerateEntry(_ context.Context, entry core.Entry, adv storage.TemplateAdvance) (core.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.generateErr[adv.TemplateID]; ok {
		return core.Entry{}, err
	}

	tpl, ok := f.templates[adv.TemplateID]
	if !ok || tpl.NextOccurrence == nil || !tpl.NextOccurrence.Equal(adv.PrevNext) {
		return core.Entry{}, storage.ErrOccurrenceTaken
	}

	tpl.NextOccurrence = adv.NewNext
	tpl.EndDate = adv.NewEnd

	f.nextEntryID++
	entry.ID = f.nextEntryID
	f.entries = append(f.entries, entry)
	return entry, nil
}

func mustCreateDue(t *testing.T, store *fakeStore, owner string, next time.Time) core.Template {
	t.Helper()
	n := next
	tpl, err := store.CreateTemplate(context.Background(), core.Template{
		OwnerID:        owner,
		Type:           core.Expense,
		Amount:         core.Money{Paise: 10000},
		Category:       "Subscriptions",
		Description:    "Netflix",
		Frequency:      core.Monthly,
		AnchorDate:     next,
		NextOccurrence: &n,
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	return tpl
}

func TestRunSweepGeneratesAndAdvances(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2025, time.March, 15, 3, 0, 0, 0, time.UTC)
	occurrence := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	tpl := mustCreateDue(t, store, "owner-1", occurrence)

	p := NewSweepProcessor(store, nil, 4, time.Second)
	p.now = func() time.Time { return now }

	report, err := p.RunSweep(context.Background())
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if report.Due != 1 || report.Succeeded != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v, want due=1 succeeded=1 failed=0", report)
	}
	if report.SweepID == "" {
		t.Error("report has no sweep id")
	}

	entries, _ := store.ListEntries(context.Background(), tpl.ID)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if !entries[0].Date.Equal(occurrence) {
		t.Errorf("entry date = %s, want occurrence %s", entries[0].Date, occurrence)
	}
	if entries[0].Recurring {
		t.Error("generated entry flagged recurring")
	}

	got, _ := store.GetTemplate(context.Background(), "owner-1", tpl.ID)
	want := time.Date(2025, time.April, 10, 0, 0, 0, 0, time.UTC)
	if got.NextOccurrence == nil || !got.NextOccurrence.Equal(want) {
		t.Errorf("next occurrence = %v, want %s", got.NextOccurrence, want.Format("2006-01-02"))
	}
}

func TestRunSweepIsolatesFailures(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2025, time.March, 15, 3, 0, 0, 0, time.UTC)
	occurrence := now.AddDate(0, 0, -1)

	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, mustCreateDue(t, store, "owner-1", occurrence).ID)
	}
	// Persistence fails for the third template only.
	store.generateErr[ids[2]] = &core.TransientStorageError{Op: "insert entry", Err: errors.New("disk I/O error")}

	p := NewSweepProcessor(store, nil, 4, time.Second)
	p.now = func() time.Time { return now }

	report, err := p.RunSweep(context.Background())
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if report.Due != 5 || report.Succeeded != 4 || report.Failed != 1 {
		t.Fatalf("report = %+v, want due=5 succeeded=4 failed=1", report)
	}
	if len(report.Failures) != 1 || report.Failures[0].TemplateID != ids[2] || report.Failures[0].OwnerID != "owner-1" {
		t.Fatalf("failures = %+v, want one failure for template %d", report.Failures, ids[2])
	}

	for i, id := range ids {
		got, _ := store.GetTemplate(context.Background(), "owner-1", id)
		entries, _ := store.ListEntries(context.Background(), id)
		if i == 2 {
			if got.NextOccurrence == nil || !got.NextOccurrence.Equal(occurrence) {
				t.Errorf("failed template advanced: next = %v, want unchanged %s", got.NextOccurrence, occurrence)
			}
			if len(entries) != 0 {
				t.Errorf("failed template gained %d entries, want 0", len(entries))
			}
			continue
		}
		if got.NextOccurrence == nil || !got.NextOccurrence.After(occurrence) {
			t.Errorf("template %d not advanced: next = %v", id, got.NextOccurrence)
		}
		if len(entries) != 1 {
			t.Errorf("template %d has %d entries, want 1", id, len(entries))
		}
	}
}

func TestRunSweepConcurrentSweepsGenerateOnce(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2025, time.March, 15, 3, 0, 0, 0, time.UTC)
	occurrence := now.AddDate(0, 0, -1)

	var ids []int64
	for i := 0; i < 10; i++ {
		ids = append(ids, mustCreateDue(t, store, "owner-1", occurrence).ID)
	}

	p := NewSweepProcessor(store, nil, 8, time.Second)
	p.now = func() time.Time { return now }

	var wg sync.WaitGroup
	reports := make([]RunReport, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			report, err := p.RunSweep(context.Background())
			if err != nil {
				t.Errorf("concurrent RunSweep: %v", err)
			}
			reports[i] = report
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		entries, _ := store.ListEntries(context.Background(), id)
		if len(entries) != 1 {
			t.Errorf("template %d has %d entries after concurrent sweeps, want exactly 1", id, len(entries))
		}
	}
	if total := reports[0].Succeeded + reports[1].Succeeded; total != len(ids) {
		t.Errorf("combined succeeded = %d, want %d", total, len(ids))
	}
	if reports[0].Failed+reports[1].Failed != 0 {
		t.Errorf("concurrent sweeps reported failures: %+v %+v", reports[0], reports[1])
	}
}

func TestRunSweepEndsExhaustedSeries(t *testing.T) {
	store := newFakeStore()
	// Weekly series anchored 2025-03-07 ending 2025-03-20: the 03-14
	// occurrence is the last one.
	now := time.Date(2025, time.March, 14, 6, 0, 0, 0, time.UTC)
	occurrence := time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, time.March, 20, 0, 0, 0, 0, time.UTC)

	n := occurrence
	tpl, err := store.CreateTemplate(context.Background(), core.Template{
		OwnerID:        "owner-1",
		Type:           core.Expense,
		Amount:         core.Money{Paise: 5000},
		Category:       "Transport",
		Frequency:      core.Weekly,
		AnchorDate:     time.Date(2025, time.March, 7, 0, 0, 0, 0, time.UTC),
		NextOccurrence: &n,
		EndDate:        &end,
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	p := NewSweepProcessor(store, nil, 1, time.Second)
	p.now = func() time.Time { return now }

	report, err := p.RunSweep(context.Background())
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if report.Succeeded != 1 {
		t.Fatalf("report = %+v, want one success", report)
	}

	got, _ := store.GetTemplate(context.Background(), "owner-1", tpl.ID)
	if got.NextOccurrence != nil {
		t.Errorf("exhausted template still active: next = %v", got.NextOccurrence)
	}
	if got.EndDate == nil {
		t.Error("exhausted template has no end date")
	}

	entries, _ := store.ListEntries(context.Background(), tpl.ID)
	if len(entries) != 1 || !entries[0].Date.Equal(occurrence) {
		t.Errorf("entries = %+v, want one dated %s", entries, occurrence.Format("2006-01-02"))
	}

	// The series is over: nothing is due anymore.
	again, err := p.RunSweep(context.Background())
	if err != nil {
		t.Fatalf("second RunSweep: %v", err)
	}
	if again.Due != 0 {
		t.Errorf("second sweep due = %d, want 0", again.Due)
	}
}

func TestRunSweepSkipsCancelledTemplates(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2025, time.March, 15, 3, 0, 0, 0, time.UTC)
	occurrence := now.AddDate(0, 0, -1)

	keep := mustCreateDue(t, store, "owner-1", occurrence)
	cancelled := mustCreateDue(t, store, "owner-1", occurrence)
	if err := store.EndTemplate(context.Background(), "owner-1", cancelled.ID, now.Add(-time.Hour)); err != nil {
		t.Fatalf("EndTemplate: %v", err)
	}

	p := NewSweepProcessor(store, nil, 2, time.Second)
	p.now = func() time.Time { return now }

	report, err := p.RunSweep(context.Background())
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if report.Due != 1 || report.Succeeded != 1 {
		t.Fatalf("report = %+v, want due=1 succeeded=1", report)
	}

	if entries, _ := store.ListEntries(context.Background(), cancelled.ID); len(entries) != 0 {
		t.Errorf("cancelled template gained %d entries", len(entries))
	}
	if entries, _ := store.ListEntries(context.Background(), keep.ID); len(entries) != 1 {
		t.Errorf("active template has %d entries, want 1", len(entries))
	}
}

type fakePublisher struct {
	mu      sync.Mutex
	entries []core.Entry
	err     error
}

func (f *fakePublisher) PublishEntryCreated(_ context.Context, entry core.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func TestRunSweepPublishesEvents(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2025, time.March, 15, 3, 0, 0, 0, time.UTC)
	mustCreateDue(t, store, "owner-1", now.AddDate(0, 0, -1))

	pub := &fakePublisher{}
	p := NewSweepProcessor(store, pub, 2, time.Second)
	p.now = func() time.Time { return now }

	if _, err := p.RunSweep(context.Background()); err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if len(pub.entries) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.entries))
	}
}

func TestRunSweepPublishFailureIsNotFatal(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2025, time.March, 15, 3, 0, 0, 0, time.UTC)
	tpl := mustCreateDue(t, store, "owner-1", now.AddDate(0, 0, -1))

	pub := &fakePublisher{err: errors.New("broker unavailable")}
	p := NewSweepProcessor(store, pub, 2, time.Second)
	p.now = func() time.Time { return now }

	report, err := p.RunSweep(context.Background())
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if report.Succeeded != 1 || report.Failed != 0 {
		t.Errorf("report = %+v, want the entry counted succeeded despite publish failure", report)
	}
	if entries, _ := store.ListEntries(context.Background(), tpl.ID); len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}
}
