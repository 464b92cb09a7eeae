//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/stemsi/exstem-attempts/internal/config"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/repository"
	"github.com/stemsi/exstem-attempts/internal/seed"
	"github.com/stemsi/exstem-attempts/internal/service"
)

const defaultBaseURL = "http://localhost:8080/api/v1"

var (
	baseURL      string
	studentID    int
	studentToken string
	adminToken   string
	examID       string
	attemptID    string
	questions    []model.QuestionForStudent
)

func TestMain(m *testing.M) {
	// Load .env if present (ignore error)
	_ = godotenv.Load("../../.env")

	baseURL = os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	// The server must share JWT_SECRET with this process.
	cfg := config.Load()
	if err := setup(cfg); err != nil {
		fmt.Printf("Setup failed: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// setup seeds the demo exam and mints tokens for a student that has never attempted it.
func setup(cfg *config.Config) error {
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	bundle := seed.Demo()
	qRepo := repository.NewQuestionRepository(pool)
	for i := range bundle.Questions {
		if err := qRepo.Save(ctx, &bundle.Questions[i]); err != nil {
			return fmt.Errorf("seed question: %w", err)
		}
	}
	if err := repository.NewExamRepository(pool).Save(ctx, &bundle.Exam); err != nil {
		return fmt.Errorf("seed exam: %w", err)
	}
	examID = bundle.Exam.ID.String()

	// The demo exam allows one attempt, so every run needs a fresh student.
	studentID = int(time.Now().Unix()%1_000_000) + 100_000

	auth := service.NewAuthService(cfg)
	if studentToken, err = auth.GenerateStudentToken(studentID); err != nil {
		return fmt.Errorf("student token: %w", err)
	}
	if adminToken, err = auth.GenerateAdminToken(1, []string{string(model.PermissionAttemptsManage)}); err != nil {
		return fmt.Errorf("admin token: %w", err)
	}
	return nil
}

func TestE2EFlow(t *testing.T) {
	// Step 1: Start the attempt
	t.Run("StartAttempt", func(t *testing.T) {
		resp, err := post(fmt.Sprintf("/student/exams/%s/attempts", examID), nil, studentToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}

		var body struct {
			Data model.AttemptView `json:"data"`
		}
		decodeJSON(t, resp, &body)
		attemptID = body.Data.AttemptID.String()
		questions = body.Data.Questions
		if len(questions) != 10 {
			t.Fatalf("questions = %d, want 10", len(questions))
		}
		if body.Data.RemainingSeconds == nil || *body.Data.RemainingSeconds > 600 {
			t.Fatalf("remaining = %v", body.Data.RemainingSeconds)
		}
		t.Logf("Attempt started: %s", attemptID)
	})

	// Step 2: Starting again resumes the same attempt
	t.Run("ResumeAttempt", func(t *testing.T) {
		resp, err := post(fmt.Sprintf("/student/exams/%s/attempts", examID), nil, studentToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
		var body struct {
			Data model.AttemptView `json:"data"`
		}
		decodeJSON(t, resp, &body)
		if body.Data.AttemptID.String() != attemptID || !body.Data.Resumed {
			t.Fatalf("resume returned %s (resumed=%v)", body.Data.AttemptID, body.Data.Resumed)
		}
	})

	// Step 3: Answer every question, the first half correctly
	t.Run("RecordAnswers", func(t *testing.T) {
		for i, q := range questions {
			choice := "a"
			if i < len(questions)/2 {
				choice = "b"
			}
			req := map[string]interface{}{
				"question_id":         q.ID.String(),
				"selected_option_ids": []string{choice},
				"time_spent_seconds":  5,
			}
			resp, err := post(fmt.Sprintf("/student/attempts/%s/answers", attemptID), req, studentToken)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("answer %d: status %d: %s", i, resp.StatusCode, readBody(resp))
			}
			resp.Body.Close()
		}
	})

	// Step 4: Another student cannot touch the attempt
	t.Run("OtherStudentRejected", func(t *testing.T) {
		other, err := service.NewAuthService(config.Load()).GenerateStudentToken(studentID + 1)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := get(fmt.Sprintf("/student/attempts/%s", attemptID), other)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", resp.StatusCode)
		}
	})

	// Step 5: Submit and check the score
	t.Run("SubmitAttempt", func(t *testing.T) {
		resp, err := post(fmt.Sprintf("/student/attempts/%s/submit", attemptID), nil, studentToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
		var body struct {
			Data model.ScoredAttempt `json:"data"`
		}
		decodeJSON(t, resp, &body)
		if body.Data.Status != model.AttemptStatusSubmitted {
			t.Errorf("status = %s", body.Data.Status)
		}
		if body.Data.Score != 5 || body.Data.MaxScore != 10 || !body.Data.Passed {
			t.Errorf("score = %v/%v passed=%v", body.Data.Score, body.Data.MaxScore, body.Data.Passed)
		}
	})

	// Step 6: Answers after submission are rejected
	t.Run("AnswerAfterSubmitRejected", func(t *testing.T) {
		req := map[string]interface{}{
			"question_id":         questions[0].ID.String(),
			"selected_option_ids": []string{"b"},
		}
		resp, err := post(fmt.Sprintf("/student/attempts/%s/answers", attemptID), req, studentToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusConflict {
			t.Errorf("Expected 409, got %d: %s", resp.StatusCode, readBody(resp))
		}
	})

	// Step 7: The single allowed attempt is used up
	t.Run("AttemptLimitReached", func(t *testing.T) {
		resp, err := post(fmt.Sprintf("/student/exams/%s/attempts", examID), nil, studentToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusConflict {
			t.Errorf("Expected 409, got %d: %s", resp.StatusCode, readBody(resp))
		}
	})

	// Step 8: Admin sees the final state, and abandoning a finished attempt changes nothing
	t.Run("AdminView", func(t *testing.T) {
		resp, err := post(fmt.Sprintf("/admin/attempts/%s/abandon", attemptID), nil, adminToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("abandon status %d: %s", resp.StatusCode, readBody(resp))
		}
		resp.Body.Close()

		resp, err = get(fmt.Sprintf("/admin/attempts/%s", attemptID), adminToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		var body struct {
			Data struct {
				StudentID int                     `json:"student_id"`
				Attempt   model.AttemptStatusView `json:"attempt"`
			} `json:"data"`
		}
		decodeJSON(t, resp, &body)
		if body.Data.StudentID != studentID || body.Data.Attempt.Status != model.AttemptStatusSubmitted {
			t.Errorf("admin view = %+v", body.Data)
		}
	})
}

// Helpers

func post(path string, body interface{}, token string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest("POST", baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	return client.Do(req)
}

func get(path string, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	return client.Do(req)
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("json decode: %v", err)
	}
}
