package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// QuestionRepository handles question bank data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByExam retrieves every question referenced by an exam.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]model.QuestionDefinition, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.question_type, q.question_text, q.options, q.points, q.estimated_time_seconds
		 FROM questions q
		 JOIN exam_questions eq ON eq.question_id = q.id
		 WHERE eq.exam_id = $1`, examID,
	)
	if err != nil {
		return nil, transient("list questions", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]model.QuestionDefinition)
	for rows.Next() {
		var (
			q    model.QuestionDefinition
			opts []byte
		)
		if err := rows.Scan(&q.ID, &q.Type, &q.Text, &opts, &q.Points, &q.EstimatedTimeSeconds); err != nil {
			return nil, transient("scan question", err)
		}
		if err := json.Unmarshal(opts, &q.Options); err != nil {
			return nil, fmt.Errorf("decode options of %s: %w", q.ID, err)
		}
		out[q.ID] = q
	}
	if err := rows.Err(); err != nil {
		return nil, transient("list questions", err)
	}
	return out, nil
}

// Save upserts a question definition.
func (r *QuestionRepository) Save(ctx context.Context, q *model.QuestionDefinition) error {
	opts := q.Options
	if opts == nil {
		opts = []model.Option{}
	}
	raw, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO questions (id, question_type, question_text, options, points, estimated_time_seconds)
		 VALUES ($1, $2, $3, $4::jsonb, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		     question_type = EXCLUDED.question_type, question_text = EXCLUDED.question_text,
		     options = EXCLUDED.options, points = EXCLUDED.points,
		     estimated_time_seconds = EXCLUDED.estimated_time_seconds`,
		q.ID, q.Type, q.Text, string(raw), q.Points, q.EstimatedTimeSeconds,
	)
	if err != nil {
		return transient("upsert question", err)
	}
	return nil
}
