// Package services holds the business logic of the recurrence engine: the
// template lifecycle state machine and the periodic sweep that materializes
// due templates into ledger entries.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"paisa/internal/core"
	"paisa/internal/storage"
)

// TemplateStore is the storage surface the lifecycle operations need.
// *storage.SQLiteRepository implements it.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, tpl core.Template) (core.Template, error)
	GetTemplate(ctx context.Context, ownerID string, id int64) (*core.Template, error)
	UpdateTemplate(ctx context.Context, tpl core.Template) error
	DeleteTemplate(ctx context.Context, ownerID string, id int64) error
	ListTemplates(ctx context.Context, ownerID string) ([]core.Template, error)
	EndTemplate(ctx context.Context, ownerID string, id int64, now time.Time) error
	ListEntries(ctx context.Context, templateID int64) ([]core.Entry, error)
}

// TemplateService drives the template lifecycle from user actions. The
// sweep drives the remaining transition (GenerateSucceeded) through
// SweepProcessor.
type TemplateService struct {
	store TemplateStore
	now   func() time.Time
}

func NewTemplateService(store TemplateStore) *TemplateService {
	return &TemplateService{
		store: store,
		now:   time.Now,
	}
}

// CreateTemplateInput carries the user-supplied fields for a new template.
type CreateTemplateInput struct {
	Type        core.EntryType
	Amount      core.Money
	Category    string
	Description string
	Tags        []string
	GoalID      *int64
	Frequency   core.Frequency
	AnchorDate  time.Time
	EndDate     *time.Time
}

// Create validates the definition and stores it Active. The anchor date is
// the first occurrence, so the initial next occurrence is the anchor
// itself; the calculator takes over after the first generation.
func (s *TemplateService) Create(ctx context.Context, ownerID string, in CreateTemplateInput) (*core.Template, error) {
	anchor := in.AnchorDate
	tpl := core.Template{
		OwnerID:        ownerID,
		Type:           in.Type,
		Amount:         in.Amount,
		Category:       in.Category,
		Description:    in.Description,
		Tags:           in.Tags,
		GoalID:         in.GoalID,
		Frequency:      in.Frequency,
		AnchorDate:     anchor,
		NextOccurrence: &anchor,
		EndDate:        in.EndDate,
	}
	if err := tpl.Validate(); err != nil {
		return nil, err
	}

	created, err := s.store.CreateTemplate(ctx, tpl)
	if err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}

	slog.InfoContext(ctx, "Recurring template created",
		"template_id", created.ID,
		"owner_id", created.OwnerID,
		"frequency", created.Frequency,
		"next_occurrence", anchor.Format("2006-01-02"))

	return &created, nil
}

// UpdateTemplateInput carries a partial edit; nil fields are unchanged.
type UpdateTemplateInput struct {
	Type        *core.EntryType
	Amount      *core.Money
	Category    *string
	Description *string
	Tags        []string
	GoalID      *int64
	Frequency   *core.Frequency
	AnchorDate  *time.Time
	EndDate     *time.Time
	ClearEnd    bool
}

// Update applies a partial edit, re-validating as on Create. When a
// schedule-affecting field changes, the next occurrence is recomputed from
// the current moment: the cadence resets rather than keeping phase with
// the original anchor. If the recomputed occurrence falls beyond the end
// date, the template ends.
func (s *TemplateService) Update(ctx context.Context, ownerID string, id int64, in UpdateTemplateInput) (*core.Template, error) {
	tpl, err := s.store.GetTemplate(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if in.Type != nil {
		tpl.Type = *in.Type
	}
	if in.Amount != nil {
		tpl.Amount = *in.Amount
	}
	if in.Category != nil {
		tpl.Category = *in.Category
	}
	if in.Description != nil {
		tpl.Description = *in.Description
	}
	if in.Tags != nil {
		tpl.Tags = in.Tags
	}
	if in.GoalID != nil {
		tpl.GoalID = in.GoalID
	}

	scheduleChanged := false
	if in.Frequency != nil && *in.Frequency != tpl.Frequency {
		tpl.Frequency = *in.Frequency
		scheduleChanged = true
	}
	if in.AnchorDate != nil && !in.AnchorDate.Equal(tpl.AnchorDate) {
		tpl.AnchorDate = *in.AnchorDate
		scheduleChanged = true
	}
	if in.ClearEnd {
		if tpl.EndDate != nil {
			tpl.EndDate = nil
			scheduleChanged = true
		}
	} else if in.EndDate != nil && (tpl.EndDate == nil || !in.EndDate.Equal(*tpl.EndDate)) {
		tpl.EndDate = in.EndDate
		scheduleChanged = true
	}

	if err := tpl.Validate(); err != nil {
		return nil, err
	}

	if scheduleChanged {
		tpl.NextOccurrence = core.NextOccurrence(tpl.Frequency, s.now(), tpl.EndDate)
	}

	if err := s.store.UpdateTemplate(ctx, *tpl); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Recurring template updated",
		"template_id", tpl.ID,
		"owner_id", tpl.OwnerID,
		"schedule_changed", scheduleChanged)

	return tpl, nil
}

// Cancel ends an active template immediately, regardless of remaining
// schedule. Returns core.ErrAlreadyEnded when the template has already
// ended and core.ErrNotFound when it is missing or not owned. Entries
// generated before the cancel are untouched.
func (s *TemplateService) Cancel(ctx context.Context, ownerID string, id int64) (*core.Template, error) {
	if err := s.store.EndTemplate(ctx, ownerID, id, s.now()); err != nil {
		return nil, err
	}

	tpl, err := s.store.GetTemplate(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Recurring template cancelled",
		"template_id", tpl.ID,
		"owner_id", tpl.OwnerID)

	return tpl, nil
}

// Delete hard-deletes a template on explicit owner request. Generated
// entries keep their lineage reference and survive.
func (s *TemplateService) Delete(ctx context.Context, ownerID string, id int64) error {
	if err := s.store.DeleteTemplate(ctx, ownerID, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Recurring template deleted", "template_id", id, "owner_id", ownerID)
	return nil
}

// ListTemplates returns the owner's templates, active and ended.
func (s *TemplateService) ListTemplates(ctx context.Context, ownerID string) ([]core.Template, error) {
	return s.store.ListTemplates(ctx, ownerID)
}

// ListInstances returns the ledger entries generated from a template,
// scoped to its owner. The template must exist; entries of deleted
// templates are reachable through the ledger itself, not this endpoint.
func (s *TemplateService) ListInstances(ctx context.Context, ownerID string, templateID int64) ([]core.Entry, error) {
	if _, err := s.store.GetTemplate(ctx, ownerID, templateID); err != nil {
		return nil, err
	}
	return s.store.ListEntries(ctx, templateID)
}

var _ TemplateStore = (*storage.SQLiteRepository)(nil)
