package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"paisa/internal/core"

	_ "modernc.org/sqlite"
)

// ErrOccurrenceTaken is returned when a conditional template advance finds
// that another worker already advanced the template past the expected
// occurrence. The caller treats it as a no-op, not a failure.
var ErrOccurrenceTaken = errors.New("occurrence already taken")

// timeLayout keeps stored timestamps lexicographically ordered so the
// due-set range predicate works on the TEXT column index.
const timeLayout = "2006-01-02T15:04:05Z"

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

const templateColumns = `id, owner_id, type, amount_paise, category, description, tags,
	goal_id, frequency, anchor_date, next_occurrence, end_date, created_at, updated_at`

// CreateTemplate inserts a new recurring template and returns it with its
// assigned id.
func (r *SQLiteRepository) CreateTemplate(ctx context.Context, tpl core.Template) (core.Template, error) {
	now := time.Now().UTC()
	tpl.CreatedAt = now
	tpl.UpdatedAt = now

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO recurring_templates
			(owner_id, type, amount_paise, category, description, tags, goal_id,
			 frequency, anchor_date, next_occurrence, end_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tpl.OwnerID, string(tpl.Type), tpl.Amount.Paise, tpl.Category, tpl.Description,
		joinTags(tpl.Tags), tpl.GoalID, string(tpl.Frequency), formatTime(tpl.AnchorDate),
		formatTimePtr(tpl.NextOccurrence), formatTimePtr(tpl.EndDate),
		formatTime(tpl.CreatedAt), formatTime(tpl.UpdatedAt))
	if err != nil {
		return core.Template{}, &core.TransientStorageError{Op: "insert template", Err: err}
	}

	id, err := res.LastInsertId()
	if err != nil {
		return core.Template{}, &core.TransientStorageError{Op: "insert template", Err: err}
	}
	tpl.ID = id
	return tpl, nil
}

// GetTemplate loads one template scoped to its owner. Returns
// core.ErrNotFound when the template is missing or owned by someone else.
func (r *SQLiteRepository) GetTemplate(ctx context.Context, ownerID string, id int64) (*core.Template, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM recurring_templates WHERE id = ? AND owner_id = ?`,
		id, ownerID)
	return scanTemplateRow(row)
}

// UpdateTemplate persists the full template row, owner-scoped.
func (r *SQLiteRepository) UpdateTemplate(ctx context.Context, tpl core.Template) error {
	tpl.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurring_templates
		SET type = ?, amount_paise = ?, category = ?, description = ?, tags = ?,
		    goal_id = ?, frequency = ?, anchor_date = ?, next_occurrence = ?,
		    end_date = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?`,
		string(tpl.Type), tpl.Amount.Paise, tpl.Category, tpl.Description, joinTags(tpl.Tags),
		tpl.GoalID, string(tpl.Frequency), formatTime(tpl.AnchorDate),
		formatTimePtr(tpl.NextOccurrence), formatTimePtr(tpl.EndDate), formatTime(tpl.UpdatedAt),
		tpl.ID, tpl.OwnerID)
	if err != nil {
		return &core.TransientStorageError{Op: "update template", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &core.TransientStorageError{Op: "update template", Err: err}
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// DeleteTemplate hard-deletes a template. Generated entries keep their
// lineage reference and are not touched.
func (r *SQLiteRepository) DeleteTemplate(ctx context.Context, ownerID string, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM recurring_templates WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return &core.TransientStorageError{Op: "delete template", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &core.TransientStorageError{Op: "delete template", Err: err}
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// ListTemplates returns all templates for one owner, active and ended.
func (r *SQLiteRepository) ListTemplates(ctx context.Context, ownerID string) ([]core.Template, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+templateColumns+` FROM recurring_templates WHERE owner_id = ? ORDER BY id`,
		ownerID)
	if err != nil {
		return nil, &core.TransientStorageError{Op: "list templates", Err: err}
	}
	defer rows.Close()
	return scanTemplates(rows)
}

// DueTemplates returns every active template whose next occurrence has
// arrived at or before now and whose end date has not passed. This is the
// single indexed range predicate the sweep is built on.
func (r *SQLiteRepository) DueTemplates(ctx context.Context, now time.Time) ([]core.Template, error) {
	ts := formatTime(now)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+templateColumns+` FROM recurring_templates
		 WHERE next_occurrence IS NOT NULL
		   AND next_occurrence <= ?
		   AND (end_date IS NULL OR end_date >= ?)`,
		ts, ts)
	if err != nil {
		return nil, &core.TransientStorageError{Op: "query due templates", Err: err}
	}
	defer rows.Close()
	return scanTemplates(rows)
}

// TemplateAdvance describes the state transition applied to a template
// after one of its occurrences has been generated. PrevNext is the
// optimistic-concurrency precondition: the advance only applies while the
// stored next_occurrence still equals it.
type TemplateAdvance struct {
	TemplateID int64
	PrevNext   time.Time
	NewNext    *time.Time
	NewEnd     *time.Time
}

// GenerateEntry writes one generated ledger entry and advances its template
// in a single transaction, so an entry can never be committed without its
// advance or vice versa. If a racing worker already advanced the template,
// nothing is written and ErrOccurrenceTaken is returned.
func (r *SQLiteRepository) GenerateEntry(ctx context.Context, entry core.Entry, adv TemplateAdvance) (core.Entry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Entry{}, &core.TransientStorageError{Op: "begin generate tx", Err: err}
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE recurring_templates
		SET next_occurrence = ?, end_date = ?, updated_at = ?
		WHERE id = ? AND next_occurrence = ?`,
		formatTimePtr(adv.NewNext), formatTimePtr(adv.NewEnd), formatTime(now),
		adv.TemplateID, formatTime(adv.PrevNext))
	if err != nil {
		return core.Entry{}, &core.TransientStorageError{Op: "advance template", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Entry{}, &core.TransientStorageError{Op: "advance template", Err: err}
	}
	if n == 0 {
		return core.Entry{}, ErrOccurrenceTaken
	}

	entry.CreatedAt = now
	ins, err := tx.ExecContext(ctx, `
		INSERT INTO entries
			(owner_id, type, amount_paise, category, description, tags, goal_id,
			 entry_date, recurring, template_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.OwnerID, string(entry.Type), entry.Amount.Paise, entry.Category,
		entry.Description, joinTags(entry.Tags), entry.GoalID, formatTime(entry.Date),
		boolToInt(entry.Recurring), entry.TemplateID, formatTime(entry.CreatedAt))
	if err != nil {
		return core.Entry{}, &core.TransientStorageError{Op: "insert entry", Err: err}
	}
	id, err := ins.LastInsertId()
	if err != nil {
		return core.Entry{}, &core.TransientStorageError{Op: "insert entry", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return core.Entry{}, &core.TransientStorageError{Op: "commit generate tx", Err: err}
	}
	entry.ID = id
	return entry, nil
}

// EndTemplate transitions an active template to ended (next_occurrence
// NULL, end date = now). Returns core.ErrAlreadyEnded when the template
// exists but has already ended.
func (r *SQLiteRepository) EndTemplate(ctx context.Context, ownerID string, id int64, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurring_templates
		SET next_occurrence = NULL, end_date = ?, updated_at = ?
		WHERE id = ? AND owner_id = ? AND next_occurrence IS NOT NULL`,
		formatTime(now), formatTime(now), id, ownerID)
	if err != nil {
		return &core.TransientStorageError{Op: "end template", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &core.TransientStorageError{Op: "end template", Err: err}
	}
	if n > 0 {
		return nil
	}

	// Either missing or already ended; distinguish for the caller.
	if _, err := r.GetTemplate(ctx, ownerID, id); err != nil {
		return err
	}
	return core.ErrAlreadyEnded
}

// ListEntries returns the entries generated from one template, oldest
// first. Lineage outlives the template: entries of a deleted template are
// still returned.
func (r *SQLiteRepository) ListEntries(ctx context.Context, templateID int64) ([]core.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, type, amount_paise, category, description, tags,
		       goal_id, entry_date, recurring, template_id, created_at
		FROM entries WHERE template_id = ? ORDER BY entry_date, id`,
		templateID)
	if err != nil {
		return nil, &core.TransientStorageError{Op: "list entries", Err: err}
	}
	defer rows.Close()

	var entries []core.Entry
	for rows.Next() {
		var (
			e          core.Entry
			typ, tags  string
			entryDate  string
			createdAt  string
			recurring  int64
			goalID     sql.NullInt64
			templateID sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.OwnerID, &typ, &e.Amount.Paise, &e.Category,
			&e.Description, &tags, &goalID, &entryDate, &recurring, &templateID, &createdAt); err != nil {
			return nil, &core.TransientStorageError{Op: "scan entry", Err: err}
		}
		e.Type = core.EntryType(typ)
		e.Tags = splitTags(tags)
		e.Recurring = recurring != 0
		if goalID.Valid {
			v := goalID.Int64
			e.GoalID = &v
		}
		if templateID.Valid {
			v := templateID.Int64
			e.TemplateID = &v
		}
		if e.Date, err = parseTime(entryDate); err != nil {
			return nil, &core.TransientStorageError{Op: "scan entry", Err: err}
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, &core.TransientStorageError{Op: "scan entry", Err: err}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.TransientStorageError{Op: "list entries", Err: err}
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(s rowScanner) (*core.Template, error) {
	var (
		tpl             core.Template
		typ, freq, tags string
		anchor, created string
		updated         string
		next, end       sql.NullString
		goalID          sql.NullInt64
	)
	err := s.Scan(&tpl.ID, &tpl.OwnerID, &typ, &tpl.Amount.Paise, &tpl.Category,
		&tpl.Description, &tags, &goalID, &freq, &anchor, &next, &end, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, &core.TransientStorageError{Op: "scan template", Err: err}
	}

	tpl.Type = core.EntryType(typ)
	tpl.Frequency = core.Frequency(freq)
	tpl.Tags = splitTags(tags)
	if goalID.Valid {
		v := goalID.Int64
		tpl.GoalID = &v
	}
	if tpl.AnchorDate, err = parseTime(anchor); err != nil {
		return nil, &core.TransientStorageError{Op: "scan template", Err: err}
	}
	if tpl.CreatedAt, err = parseTime(created); err != nil {
		return nil, &core.TransientStorageError{Op: "scan template", Err: err}
	}
	if tpl.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, &core.TransientStorageError{Op: "scan template", Err: err}
	}
	if tpl.NextOccurrence, err = parseTimeNull(next); err != nil {
		return nil, &core.TransientStorageError{Op: "scan template", Err: err}
	}
	if tpl.EndDate, err = parseTimeNull(end); err != nil {
		return nil, &core.TransientStorageError{Op: "scan template", Err: err}
	}
	return &tpl, nil
}

func scanTemplateRow(row *sql.Row) (*core.Template, error) {
	return scanTemplate(row)
}

func scanTemplates(rows *sql.Rows) ([]core.Template, error) {
	var templates []core.Template
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.TransientStorageError{Op: "iterate templates", Err: err}
	}
	return templates, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseTimeNull(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
