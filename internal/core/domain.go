package core

import (
	"strings"
	"time"
)

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

const (
	Income  EntryType = "income"
	Expense EntryType = "expense"
)

type (
	Frequency string

	EntryType string

	Money struct {
		Paise int64
	}

	// Template is a recurring transaction definition: the economic fields
	// copied into every generated entry plus the recurrence schedule.
	// NextOccurrence is nil exactly when the template has ended.
	Template struct {
		ID             int64
		OwnerID        string
		Type           EntryType
		Amount         Money
		Category       string
		Description    string
		Tags           []string
		GoalID         *int64
		Frequency      Frequency
		AnchorDate     time.Time
		NextOccurrence *time.Time
		EndDate        *time.Time
		CreatedAt      time.Time
		UpdatedAt      time.Time
	}

	// Entry is one concrete ledger entry. Entries generated from a template
	// carry the template id for lineage only; deleting the template leaves
	// its entries in place.
	Entry struct {
		ID          int64
		OwnerID     string
		Type        EntryType
		Amount      Money
		Category    string
		Description string
		Tags        []string
		GoalID      *int64
		Date        time.Time
		Recurring   bool
		TemplateID  *int64
		CreatedAt   time.Time
	}
)

// Valid reports whether f is one of the four supported frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

func (t EntryType) Valid() bool {
	return t == Income || t == Expense
}

func (m Money) Validate() error {
	if m.Paise <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	return nil
}

// Active reports whether the template still has occurrences to generate.
// It is derived from NextOccurrence and never stored independently.
func (t Template) Active() bool {
	return t.NextOccurrence != nil
}

func (t Template) Validate() error {
	if !t.Type.Valid() {
		return &ValidationError{Field: "type", Reason: "must be income or expense"}
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.Category) == "" {
		return &ValidationError{Field: "category", Reason: "cannot be empty"}
	}
	if len(t.Description) > 200 {
		return &ValidationError{Field: "description", Reason: "too long (max 200 characters)"}
	}
	if !t.Frequency.Valid() {
		return &ValidationError{Field: "frequency", Reason: "must be daily, weekly, monthly or yearly"}
	}
	if t.AnchorDate.IsZero() {
		return &ValidationError{Field: "anchor_date", Reason: "cannot be zero"}
	}
	if t.EndDate != nil && t.EndDate.Before(t.AnchorDate) {
		return &ValidationError{Field: "end_date", Reason: "must not be before anchor date"}
	}
	return nil
}

// Snapshot copies the template's economic fields into a new entry dated at
// the given occurrence. The entry is an independent, non-recurring record.
func (t Template) Snapshot(occurrence time.Time) Entry {
	tags := make([]string, len(t.Tags))
	copy(tags, t.Tags)
	id := t.ID
	return Entry{
		OwnerID:     t.OwnerID,
		Type:        t.Type,
		Amount:      t.Amount,
		Category:    t.Category,
		Description: t.Description,
		Tags:        tags,
		GoalID:      t.GoalID,
		Date:        occurrence,
		Recurring:   false,
		TemplateID:  &id,
	}
}
