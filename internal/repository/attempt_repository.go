package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// AttemptPostgres is the PostgreSQL AttemptRepository. Every state change is a single
// conditional statement, so no application-level locks are needed.
type AttemptPostgres struct {
	pool *pgxpool.Pool
}

// NewAttemptPostgres creates a new AttemptPostgres.
func NewAttemptPostgres(pool *pgxpool.Pool) *AttemptPostgres {
	return &AttemptPostgres{pool: pool}
}

const attemptColumns = `id, exam_id, student_id, attempt_number, status, started_at, deadline_at,
	submitted_at, score, max_score, percentage, passed, requires_manual_grading,
	question_order, option_order`

// CreateIfNoActive inserts the attempt unless the partial unique index on active attempts
// already holds one, in which case that row is returned.
func (r *AttemptPostgres) CreateIfNoActive(ctx context.Context, a *model.Attempt) (*model.Attempt, bool, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	order, err := json.Marshal(a.QuestionOrder)
	if err != nil {
		return nil, false, fmt.Errorf("encode question order: %w", err)
	}
	optOrder := a.OptionOrder
	if optOrder == nil {
		optOrder = map[uuid.UUID][]string{}
	}
	opts, err := json.Marshal(optOrder)
	if err != nil {
		return nil, false, fmt.Errorf("encode option order: %w", err)
	}

	// A racing finalization can clear the active row between the conflict and the
	// re-read, so retry a couple of times before giving up.
	for i := 0; i < 3; i++ {
		var number int
		err = r.pool.QueryRow(ctx,
			`INSERT INTO attempts (id, exam_id, student_id, attempt_number, status, started_at,
			                       deadline_at, question_order, option_order)
			 SELECT $1::uuid, $2::uuid, $3::int, COALESCE(MAX(attempt_number), 0) + 1, 'IN_PROGRESS',
			        $4::timestamptz, $5::timestamptz, $6::jsonb, $7::jsonb
			 FROM attempts WHERE exam_id = $2 AND student_id = $3
			 ON CONFLICT (exam_id, student_id) WHERE status = 'IN_PROGRESS' DO NOTHING
			 RETURNING attempt_number`,
			a.ID, a.ExamID, a.StudentID, a.StartedAt, a.DeadlineAt, string(order), string(opts),
		).Scan(&number)
		if err == nil {
			stored := *a
			stored.AttemptNumber = number
			stored.Status = model.AttemptStatusInProgress
			stored.Answers = map[uuid.UUID]model.AnswerRecord{}
			return &stored, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, transient("insert attempt", err)
		}

		existing, err := r.GetActive(ctx, a.ExamID, a.StudentID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrAttemptNotFound) {
			return nil, false, err
		}
	}
	return nil, false, fmt.Errorf("insert attempt: %w: active attempt kept changing", ErrTransientStorage)
}

func (r *AttemptPostgres) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadAnswers(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *AttemptPostgres) GetActive(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts
		 WHERE exam_id = $1 AND student_id = $2 AND status = 'IN_PROGRESS'`, examID, studentID))
	if err != nil {
		return nil, err
	}
	if err := r.loadAnswers(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *AttemptPostgres) CountAttempts(ctx context.Context, examID uuid.UUID, studentID int) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID,
	).Scan(&n)
	if err != nil {
		return 0, transient("count attempts", err)
	}
	return n, nil
}

// UpsertAnswer writes through a share-locked read of the attempt row, so a concurrent
// claim either waits for this write or makes it a no-op.
func (r *AttemptPostgres) UpsertAnswer(ctx context.Context, attemptID, questionID uuid.UUID, rec model.AnswerRecord) error {
	selected := rec.SelectedOptionIDs
	if selected == nil {
		selected = []string{}
	}
	sel, err := json.Marshal(selected)
	if err != nil {
		return fmt.Errorf("encode selection: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`INSERT INTO attempt_answers (attempt_id, question_id, selected_option_ids, written_text,
		                              answered_at, time_spent_seconds)
		 SELECT a.id, $2::uuid, $3::jsonb, $4::text, $5::timestamptz, $6::int
		 FROM attempts a
		 WHERE a.id = $1 AND a.status = 'IN_PROGRESS'
		 FOR SHARE OF a
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET selected_option_ids = EXCLUDED.selected_option_ids,
		     written_text        = EXCLUDED.written_text,
		     answered_at         = EXCLUDED.answered_at,
		     time_spent_seconds  = EXCLUDED.time_spent_seconds`,
		attemptID, questionID, string(sel), rec.WrittenText, rec.AnsweredAt, rec.TimeSpentSeconds,
	)
	if err != nil {
		return transient("upsert answer", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, attemptID)
	}
	return nil
}

func (r *AttemptPostgres) ClaimTerminal(ctx context.Context, attemptID uuid.UUID, status model.AttemptStatus, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts SET status = $2, submitted_at = $3
		 WHERE id = $1 AND status = 'IN_PROGRESS'`,
		attemptID, status, at,
	)
	if err != nil {
		return false, transient("claim attempt", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if err := r.explainMiss(ctx, attemptID); !errors.Is(err, ErrAttemptNotActive) {
		return false, err
	}
	return false, nil
}

func (r *AttemptPostgres) SaveScore(ctx context.Context, attemptID uuid.UUID, res model.ScoreResult) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET score = $2, max_score = $3, percentage = $4, passed = $5, requires_manual_grading = $6
		 WHERE id = $1 AND status <> 'IN_PROGRESS' AND score IS NULL`,
		attemptID, res.Score, res.MaxScore, res.Percentage, res.Passed, res.RequiresManualGrading,
	)
	if err != nil {
		return transient("save score", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var status model.AttemptStatus
	err = r.pool.QueryRow(ctx, `SELECT status FROM attempts WHERE id = $1`, attemptID).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrAttemptNotFound
	case err != nil:
		return transient("save score", err)
	case status == model.AttemptStatusInProgress:
		return ErrAttemptNotActive
	}
	// Already scored by the other finalizer.
	return nil
}

func (r *AttemptPostgres) ListPendingDeadlines(ctx context.Context) ([]model.DeadlineEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, deadline_at FROM attempts
		 WHERE status = 'IN_PROGRESS' AND deadline_at IS NOT NULL
		 ORDER BY deadline_at`)
	if err != nil {
		return nil, transient("list pending deadlines", err)
	}
	defer rows.Close()

	var out []model.DeadlineEntry
	for rows.Next() {
		var e model.DeadlineEntry
		if err := rows.Scan(&e.AttemptID, &e.DeadlineAt); err != nil {
			return nil, transient("scan deadline", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("list pending deadlines", err)
	}
	return out, nil
}

func (r *AttemptPostgres) ListUnscored(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM attempts WHERE status <> 'IN_PROGRESS' AND score IS NULL`)
	if err != nil {
		return nil, transient("list unscored", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, transient("scan unscored", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("list unscored", err)
	}
	return ids, nil
}

// explainMiss turns a zero-row conditional write into ErrAttemptNotFound or ErrAttemptNotActive.
func (r *AttemptPostgres) explainMiss(ctx context.Context, attemptID uuid.UUID) error {
	var status model.AttemptStatus
	err := r.pool.QueryRow(ctx, `SELECT status FROM attempts WHERE id = $1`, attemptID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAttemptNotFound
	}
	if err != nil {
		return transient("read attempt status", err)
	}
	return ErrAttemptNotActive
}

func (r *AttemptPostgres) loadAnswers(ctx context.Context, a *model.Attempt) error {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, selected_option_ids, written_text, answered_at, time_spent_seconds
		 FROM attempt_answers WHERE attempt_id = $1`, a.ID)
	if err != nil {
		return transient("load answers", err)
	}
	defer rows.Close()

	a.Answers = make(map[uuid.UUID]model.AnswerRecord)
	for rows.Next() {
		var (
			qID uuid.UUID
			sel []byte
			rec model.AnswerRecord
		)
		if err := rows.Scan(&qID, &sel, &rec.WrittenText, &rec.AnsweredAt, &rec.TimeSpentSeconds); err != nil {
			return transient("scan answer", err)
		}
		if err := json.Unmarshal(sel, &rec.SelectedOptionIDs); err != nil {
			return fmt.Errorf("decode selection for %s: %w", qID, err)
		}
		a.Answers[qID] = rec
	}
	if err := rows.Err(); err != nil {
		return transient("load answers", err)
	}
	return nil
}

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	var (
		a        model.Attempt
		order    []byte
		optOrder []byte
	)
	err := row.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.AttemptNumber, &a.Status, &a.StartedAt,
		&a.DeadlineAt, &a.SubmittedAt, &a.Score, &a.MaxScore, &a.Percentage, &a.Passed,
		&a.RequiresManualGrading, &order, &optOrder)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, transient("scan attempt", err)
	}
	if err := json.Unmarshal(order, &a.QuestionOrder); err != nil {
		return nil, fmt.Errorf("decode question order: %w", err)
	}
	if err := json.Unmarshal(optOrder, &a.OptionOrder); err != nil {
		return nil, fmt.Errorf("decode option order: %w", err)
	}
	return &a, nil
}

// transient tags driver failures so callers can tell them from domain outcomes.
func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransientStorage, err)
}
