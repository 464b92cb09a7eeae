// Package events publishes attempt lifecycle events for downstream consumers
// such as the manual grading workflow.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/config"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// MetadataAttemptID is the message metadata key carrying the attempt id.
const MetadataAttemptID = "attempt_id"

// AttemptStarted is emitted once when an attempt is created.
type AttemptStarted struct {
	AttemptID     uuid.UUID  `json:"attempt_id"`
	ExamID        uuid.UUID  `json:"exam_id"`
	StudentID     int        `json:"student_id"`
	AttemptNumber int        `json:"attempt_number"`
	StartedAt     time.Time  `json:"started_at"`
	DeadlineAt    *time.Time `json:"deadline_at,omitempty"`
}

// AttemptFinalized is emitted once, by the finalizer that won the claim.
type AttemptFinalized struct {
	AttemptID             uuid.UUID             `json:"attempt_id"`
	ExamID                uuid.UUID             `json:"exam_id"`
	StudentID             int                   `json:"student_id"`
	Status                model.AttemptStatus   `json:"status"`
	Trigger               model.FinalizeTrigger `json:"trigger"`
	Score                 float64               `json:"score"`
	MaxScore              float64               `json:"max_score"`
	Percentage            float64               `json:"percentage"`
	Passed                bool                  `json:"passed"`
	RequiresManualGrading bool                  `json:"requires_manual_grading"`
	SubmittedAt           time.Time             `json:"submitted_at"`
}

// Publisher encodes lifecycle events onto a watermill publisher.
type Publisher struct {
	pub message.Publisher
	log zerolog.Logger
}

// NewPublisher creates a new Publisher.
func NewPublisher(pub message.Publisher, log zerolog.Logger) *Publisher {
	return &Publisher{
		pub: pub,
		log: log.With().Str("component", "event_publisher").Logger(),
	}
}

func (p *Publisher) AttemptStarted(ctx context.Context, ev AttemptStarted) error {
	return p.publish(ctx, config.Topics.AttemptStarted, ev.AttemptID, ev)
}

func (p *Publisher) AttemptFinalized(ctx context.Context, ev AttemptFinalized) error {
	return p.publish(ctx, config.Topics.AttemptFinalized, ev.AttemptID, ev)
}

// Close releases the underlying publisher.
func (p *Publisher) Close() error {
	return p.pub.Close()
}

func (p *Publisher) publish(ctx context.Context, topic string, attemptID uuid.UUID, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), body)
	msg.Metadata.Set(MetadataAttemptID, attemptID.String())
	msg.SetContext(ctx)

	if err := p.pub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	p.log.Debug().
		Str("topic", topic).
		Str("attempt_id", attemptID.String()).
		Msg("Event published")
	return nil
}
