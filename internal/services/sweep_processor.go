package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"paisa/internal/core"
	"paisa/internal/log"
	"paisa/internal/storage"
)

// SweepStore is the storage surface one sweep needs: the due-set range
// query and the transactional generate-and-advance write.
type SweepStore interface {
	DueTemplates(ctx context.Context, now time.Time) ([]core.Template, error)
	GenerateEntry(ctx context.Context, entry core.Entry, adv storage.TemplateAdvance) (core.Entry, error)
}

// EntryPublisher notifies downstream consumers of generated entries.
// *amqp.Client implements it; a nil publisher disables eventing.
type EntryPublisher interface {
	PublishEntryCreated(ctx context.Context, entry core.Entry) error
}

// RunReport is the per-sweep observability record. It is logged, never
// persisted.
type RunReport struct {
	SweepID   string
	Timestamp time.Time
	Due       int
	Succeeded int
	Failed    int
	Skipped   int
	Failures  []SweepFailure
}

type SweepFailure struct {
	TemplateID int64
	OwnerID    string
	Reason     string
}

// SweepProcessor runs one sweep: it locates due templates, generates one
// entry per template, and advances or ends each template. Failures are
// isolated per template and retried on a later sweep.
type SweepProcessor struct {
	store           SweepStore
	publisher       EntryPublisher
	workers         int
	templateTimeout time.Duration
	now             func() time.Time
	logger          *log.Logger
}

func NewSweepProcessor(store SweepStore, publisher EntryPublisher, workers int, templateTimeout time.Duration) *SweepProcessor {
	if workers < 1 {
		workers = 1
	}
	return &SweepProcessor{
		store:           store,
		publisher:       publisher,
		workers:         workers,
		templateTimeout: templateTimeout,
		now:             time.Now,
		logger:          log.New(log.Config{Component: log.ComponentSweep}),
	}
}

// RunSweep executes one full sweep and returns its report. One reference
// time is captured for the whole sweep; per-template work runs on a
// bounded pool with no ordering guarantee. A failing template is counted
// and logged, never aborts the batch.
func (p *SweepProcessor) RunSweep(ctx context.Context) (RunReport, error) {
	now := p.now().UTC()
	report := RunReport{
		SweepID:   uuid.NewString(),
		Timestamp: now,
	}

	due, err := p.store.DueTemplates(ctx, now)
	if err != nil {
		return report, fmt.Errorf("query due templates: %w", err)
	}
	report.Due = len(due)

	p.logger.InfoContext(ctx, "Sweep started",
		log.FieldSweepID, report.SweepID,
		log.FieldDue, report.Due,
		"reference_time", now.Format(time.RFC3339))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for _, tpl := range due {
		tpl := tpl
		g.Go(func() error {
			outcome := p.processTemplate(gctx, tpl, now)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case outcome == nil:
				report.Succeeded++
			case errors.Is(outcome, storage.ErrOccurrenceTaken):
				// A racing worker already generated this occurrence.
				report.Skipped++
			default:
				report.Failed++
				report.Failures = append(report.Failures, SweepFailure{
					TemplateID: tpl.ID,
					OwnerID:    tpl.OwnerID,
					Reason:     outcome.Error(),
				})
				p.logger.ErrorContext(ctx, "Template processing failed",
					log.FieldSweepID, report.SweepID,
					log.FieldTemplateID, tpl.ID,
					log.FieldOwnerID, tpl.OwnerID,
					log.FieldReason, outcome.Error())
			}
			// Failures stay in the report, not in the group error: one bad
			// template must not cancel the remaining workers.
			return nil
		})
	}
	// Workers always return nil; failures are collected in the report.
	_ = g.Wait()

	p.logger.InfoContext(ctx, "Sweep complete",
		log.FieldSweepID, report.SweepID,
		log.FieldDue, report.Due,
		log.FieldSucceeded, report.Succeeded,
		log.FieldFailed, report.Failed,
		"skipped", report.Skipped)

	return report, nil
}

// processTemplate generates the entry for one template's current
// occurrence and applies the GenerateSucceeded transition, all within the
// per-template timeout.
func (p *SweepProcessor) processTemplate(ctx context.Context, tpl core.Template, now time.Time) error {
	// Re-check against races with user cancels between the due query and
	// this worker picking the template up.
	if !tpl.Active() {
		return storage.ErrOccurrenceTaken
	}

	if p.templateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.templateTimeout)
		defer cancel()
	}

	occurrence := *tpl.NextOccurrence
	adv := storage.TemplateAdvance{
		TemplateID: tpl.ID,
		PrevNext:   occurrence,
		NewNext:    core.NextOccurrence(tpl.Frequency, occurrence, tpl.EndDate),
		NewEnd:     tpl.EndDate,
	}
	if adv.NewNext == nil {
		// Series exhausted: the template ends with this occurrence.
		end := now
		if tpl.EndDate != nil && tpl.EndDate.Before(now) {
			end = *tpl.EndDate
		}
		adv.NewEnd = &end
	}

	entry, err := p.store.GenerateEntry(ctx, tpl.Snapshot(occurrence), adv)
	if err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "Generated entry from recurring template",
		log.FieldTemplateID, tpl.ID,
		log.FieldOwnerID, tpl.OwnerID,
		log.FieldEntryID, entry.ID,
		log.FieldOccurrence, occurrence.Format("2006-01-02"),
		log.FieldFrequency, tpl.Frequency,
		"ended", adv.NewNext == nil)

	if p.publisher != nil {
		// Eventing is best-effort: the entry is already persisted.
		if err := p.publisher.PublishEntryCreated(ctx, entry); err != nil {
			p.logger.WarnContext(ctx, "Failed to publish entry created event",
				log.FieldEntryID, entry.ID, log.FieldError, err)
		}
	}

	return nil
}

var _ SweepStore = (*storage.SQLiteRepository)(nil)
