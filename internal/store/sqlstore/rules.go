package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/nextlevelbuilder/asa/internal/store"
)

// RuleStore implements store.RuleStore.
type RuleStore struct {
	db *sql.DB
	d  Dialect
}

const ruleSelectCols = `id, name, trigger_type, presentation, response_text, main_question,
	option_a, option_b, option_c, option_d, pause_ai, active, created_at, updated_at`

func (s *RuleStore) Active(ctx context.Context, triggers ...store.TriggerType) ([]store.AutoResponseRule, error) {
	if len(triggers) == 0 {
		return nil, nil
	}
	names := make([]string, len(triggers))
	for i, t := range triggers {
		names[i] = string(t)
	}

	var (
		q    string
		args []any
	)
	if s.d == Postgres {
		q = `SELECT ` + ruleSelectCols + ` FROM auto_responses
			WHERE active = TRUE AND trigger_type = ANY(?) ORDER BY created_at, id`
		args = []any{pq.Array(names)}
	} else {
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
		q = `SELECT ` + ruleSelectCols + ` FROM auto_responses
			WHERE active = TRUE AND trigger_type IN (` + marks + `) ORDER BY created_at, id`
		for _, n := range names {
			args = append(args, n)
		}
	}

	rows, err := s.db.QueryContext(ctx, s.d.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	return scanRules(rows)
}

func (s *RuleStore) List(ctx context.Context) ([]store.AutoResponseRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleSelectCols+` FROM auto_responses ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return scanRules(rows)
}

func (s *RuleStore) Get(ctx context.Context, id uuid.UUID) (*store.AutoResponseRule, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(
		`SELECT `+ruleSelectCols+` FROM auto_responses WHERE id = ?`), id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return r, err
}

func (s *RuleStore) Create(ctx context.Context, r *store.AutoResponseRule) error {
	if r.ID == uuid.Nil {
		r.ID = store.GenNewID()
	}
	if r.Presentation == "" {
		r.Presentation = store.PresentationSimple
	}
	if r.TriggerType == "" {
		r.TriggerType = store.TriggerFirstMessage
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, s.d.rebind(
		`INSERT INTO auto_responses (id, name, trigger_type, presentation, response_text, main_question,
			option_a, option_b, option_c, option_d, pause_ai, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.Name, string(r.TriggerType), string(r.Presentation), r.ResponseText, r.MainQuestion,
		r.OptionA, r.OptionB, r.OptionC, r.OptionD, r.PauseAI, r.Active, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func (s *RuleStore) Update(ctx context.Context, r *store.AutoResponseRule) error {
	r.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.d.rebind(
		`UPDATE auto_responses SET name = ?, trigger_type = ?, presentation = ?, response_text = ?,
			main_question = ?, option_a = ?, option_b = ?, option_c = ?, option_d = ?,
			pause_ai = ?, active = ?, updated_at = ?
		 WHERE id = ?`),
		r.Name, string(r.TriggerType), string(r.Presentation), r.ResponseText,
		r.MainQuestion, r.OptionA, r.OptionB, r.OptionC, r.OptionD,
		r.PauseAI, r.Active, r.UpdatedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	return expectOneRow(res)
}

func (s *RuleStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, s.d.rebind(`DELETE FROM auto_responses WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func scanRules(rows *sql.Rows) ([]store.AutoResponseRule, error) {
	defer rows.Close()
	var out []store.AutoResponseRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRule(row rowScanner) (*store.AutoResponseRule, error) {
	var (
		r            store.AutoResponseRule
		trigger      string
		presentation string
	)
	err := row.Scan(&r.ID, &r.Name, &trigger, &presentation, &r.ResponseText, &r.MainQuestion,
		&r.OptionA, &r.OptionB, &r.OptionC, &r.OptionD, &r.PauseAI, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.TriggerType = store.TriggerType(trigger)
	r.Presentation = store.Presentation(presentation)
	return &r, nil
}
