package handler

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/middleware"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/response"
	"github.com/stemsi/exstem-attempts/internal/service"
	"github.com/stemsi/exstem-attempts/internal/validator"
	ws "github.com/stemsi/exstem-attempts/internal/websocket"
)

// DefaultStatusInterval is how often the stream pushes the server countdown.
const DefaultStatusInterval = 30 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams one attempt over a WebSocket: autosave, submit and a periodic
// server-time countdown.
type WSHandler struct {
	attempts       *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
	statusInterval time.Duration
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attempts *service.AttemptService, log zerolog.Logger, allowedOrigins []string, statusInterval time.Duration) *WSHandler {
	if statusInterval <= 0 {
		statusInterval = DefaultStatusInterval
	}
	return &WSHandler{
		attempts:       attempts,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
		statusInterval: statusInterval,
	}
}

// AttemptStream godoc
// WS /ws/v1/student/attempts/:attempt_id/stream
// Upgrades to WebSocket for real-time autosave and submission.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	studentID, err := middleware.CurrentStudent(c)
	if err != nil {
		fail(c, err)
		return
	}
	attemptID, ok := bindAttemptID(c)
	if !ok {
		return
	}
	// Ownership is checked before the upgrade so failures are plain HTTP responses.
	if err := h.attempts.AuthorizeAttempt(c.Request.Context(), attemptID, studentID); err != nil {
		fail(c, err)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)

	// The request context is not cancelled when a hijacked client goes away.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("attempt_id", attemptID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	if h.pushStatus(ctx, conn, wsLog, attemptID) {
		conn.Close("attempt finished")
		return
	}
	go h.statusLoop(ctx, conn, wsLog, attemptID)

	for {
		var msg ws.Request
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch msg.Action {
		case ws.ActionAutosave:
			h.handleAutosave(ctx, conn, wsLog, attemptID, msg)
		case ws.ActionSubmit:
			if h.handleSubmit(ctx, conn, wsLog, attemptID) {
				cancel()
				conn.Close("attempt finished")
				return
			}
		case ws.ActionStatus:
			h.pushStatus(ctx, conn, wsLog, attemptID)
		case ws.ActionPing:
			conn.WriteTyped(ws.PongResponse{Event: ws.EventPong, ServerTime: time.Now().UTC()})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			conn.WriteError(string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
		}
	}
	cancel()
	conn.Close("")
}

// handleAutosave records a single answer through the lifecycle manager.
func (h *WSHandler) handleAutosave(ctx context.Context, conn *ws.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, msg ws.Request) {
	req := msg.AnswerRequest()
	if fields := validator.Validate(&req); fields != nil {
		conn.WriteError(string(response.ErrValidation), joinFields(fields))
		return
	}

	err := h.attempts.RecordAnswer(ctx, attemptID, uuid.MustParse(req.QuestionID), req.Payload())
	if err != nil {
		h.writeServiceError(conn, wsLog, err)
		return
	}
	conn.WriteTyped(ws.SavedResponse{Event: ws.EventSaved, QuestionID: req.QuestionID})
}

// handleSubmit finalizes the attempt. Returns true when the stream should end.
func (h *WSHandler) handleSubmit(ctx context.Context, conn *ws.Conn, wsLog zerolog.Logger, attemptID uuid.UUID) bool {
	result, err := h.attempts.Finalize(ctx, attemptID, model.TriggerStudentSubmit)
	if err != nil {
		h.writeServiceError(conn, wsLog, err)
		return false
	}
	conn.WriteTyped(ws.FinalizedResponse{Event: ws.EventFinalized, Result: result})
	return true
}

// statusLoop pushes the countdown until the attempt ends or the stream closes.
func (h *WSHandler) statusLoop(ctx context.Context, conn *ws.Conn, wsLog zerolog.Logger, attemptID uuid.UUID) {
	ticker := time.NewTicker(h.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.pushStatus(ctx, conn, wsLog, attemptID) {
				conn.Close("attempt finished")
				return
			}
		}
	}
}

// pushStatus sends the current status, plus the result once the attempt is final.
// Returns true when the attempt is terminal and scored.
func (h *WSHandler) pushStatus(ctx context.Context, conn *ws.Conn, wsLog zerolog.Logger, attemptID uuid.UUID) bool {
	status, err := h.attempts.GetStatus(ctx, attemptID)
	if err != nil {
		if ctx.Err() == nil {
			h.writeServiceError(conn, wsLog, err)
		}
		return false
	}
	conn.WriteTyped(ws.StatusResponse{Event: ws.EventStatus, Status: status})

	if status.Status.IsTerminal() && status.Result != nil {
		conn.WriteTyped(ws.FinalizedResponse{Event: ws.EventFinalized, Result: status.Result})
		return true
	}
	return false
}

func (h *WSHandler) writeServiceError(conn *ws.Conn, wsLog zerolog.Logger, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		wsLog.Error().Err(err).Msg("Stream operation failed")
	}
	conn.WriteError(string(code), response.GetMessage(code))
}

func joinFields(fields map[string]string) string {
	msgs := make([]string, 0, len(fields))
	for _, msg := range fields {
		msgs = append(msgs, msg)
	}
	sort.Strings(msgs)
	return strings.Join(msgs, "; ")
}
