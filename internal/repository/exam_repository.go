package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// ExamRepository handles exam data access. It implements ExamStore.
type ExamRepository struct {
	pool      *pgxpool.Pool
	questions *QuestionRepository
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool, questions: NewQuestionRepository(pool)}
}

// GetExamDefinition retrieves an exam with its ordered question references.
func (r *ExamRepository) GetExamDefinition(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	e := &model.ExamDefinition{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, status, available_from, available_until, duration_seconds,
		        passing_score_percent, max_attempts, shuffle_questions, shuffle_answer_options,
		        allow_retake, require_all_answered
		 FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.Status, &e.AvailableFrom, &e.AvailableUntil, &e.DurationSeconds,
		&e.PassingScorePercent, &e.MaxAttempts, &e.ShuffleQuestions, &e.ShuffleAnswerOptions,
		&e.AllowRetake, &e.RequireAllAnswered)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExamNotFound
	}
	if err != nil {
		return nil, transient("get exam", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT question_id, points, order_num FROM exam_questions
		 WHERE exam_id = $1 ORDER BY order_num, question_id`, id)
	if err != nil {
		return nil, transient("list exam questions", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref model.QuestionRef
		if err := rows.Scan(&ref.QuestionID, &ref.Points, &ref.Order); err != nil {
			return nil, transient("scan exam question", err)
		}
		e.Questions = append(e.Questions, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("list exam questions", err)
	}
	return e, nil
}

// GetQuestionDefinitions retrieves the full definitions, answer key included, for an exam.
func (r *ExamRepository) GetQuestionDefinitions(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]model.QuestionDefinition, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM exams WHERE id = $1)`, examID).Scan(&exists); err != nil {
		return nil, transient("check exam", err)
	}
	if !exists {
		return nil, ErrExamNotFound
	}
	return r.questions.ListByExam(ctx, examID)
}

// ListPublished returns the ids of every published exam, used to prewarm the cache.
func (r *ExamRepository) ListPublished(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM exams WHERE status = 'PUBLISHED'`)
	if err != nil {
		return nil, transient("list published exams", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, transient("scan exam id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Save upserts an exam and replaces its question references inside one transaction.
func (r *ExamRepository) Save(ctx context.Context, e *model.ExamDefinition) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return transient("begin", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO exams (id, title, status, available_from, available_until, duration_seconds,
		                    passing_score_percent, max_attempts, shuffle_questions,
		                    shuffle_answer_options, allow_retake, require_all_answered)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
		     title = EXCLUDED.title, status = EXCLUDED.status,
		     available_from = EXCLUDED.available_from, available_until = EXCLUDED.available_until,
		     duration_seconds = EXCLUDED.duration_seconds,
		     passing_score_percent = EXCLUDED.passing_score_percent,
		     max_attempts = EXCLUDED.max_attempts, shuffle_questions = EXCLUDED.shuffle_questions,
		     shuffle_answer_options = EXCLUDED.shuffle_answer_options,
		     allow_retake = EXCLUDED.allow_retake,
		     require_all_answered = EXCLUDED.require_all_answered,
		     updated_at = NOW()`,
		e.ID, e.Title, e.Status, e.AvailableFrom, e.AvailableUntil, e.DurationSeconds,
		e.PassingScorePercent, e.MaxAttempts, e.ShuffleQuestions, e.ShuffleAnswerOptions,
		e.AllowRetake, e.RequireAllAnswered,
	)
	if err != nil {
		return transient("upsert exam", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM exam_questions WHERE exam_id = $1`, e.ID); err != nil {
		return transient("clear exam questions", err)
	}

	batch := &pgx.Batch{}
	for _, ref := range e.Questions {
		batch.Queue(
			`INSERT INTO exam_questions (exam_id, question_id, points, order_num) VALUES ($1, $2, $3, $4)`,
			e.ID, ref.QuestionID, ref.Points, ref.Order,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return transient("insert exam questions", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return transient("commit", err)
	}
	return nil
}
