// Package server exposes the HTTP intake for donor submissions.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/donor-caging/internal/caging"
	"github.com/sells-group/donor-caging/internal/model"
	"github.com/sells-group/donor-caging/internal/submission"
	"github.com/sells-group/donor-caging/internal/worker"
)

const maxBodyBytes = 1 << 20

// Enqueuer starts the caging workflow for a job.
type Enqueuer interface {
	Enqueue(ctx context.Context, job caging.Job) (worker.Dispatch, error)
}

// DryRunner categorizes a submission without applying the outcome.
type DryRunner interface {
	DryRun(ctx context.Context, sub model.Submission) (caging.Result, error)
}

// Recorder persists the gift and queue row for a new submission in one
// transaction. g is nil when the submission names an existing gift.
type Recorder interface {
	RecordIntake(ctx context.Context, g *model.Gift, q *model.QueuedDonor) error
}

// Server holds the intake dependencies.
type Server struct {
	enqueuer Enqueuer
	dryRun   DryRunner
	recorder Recorder
}

// New creates a Server.
func New(enqueuer Enqueuer, dryRun DryRunner, recorder Recorder) *Server {
	return &Server{enqueuer: enqueuer, dryRun: dryRun, recorder: recorder}
}

// Router builds the HTTP handler. allowedOrigins feeds the CORS policy.
func (s *Server) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", handleHealth)
	r.Route("/donors", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Post("/categorize", s.handleCategorize)
	})
	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitResponse struct {
	Status        string `json:"status"`
	WorkflowID    string `json:"workflow_id"`
	RunID         string `json:"run_id"`
	GiftID        int64  `json:"gift_id"`
	QueuedDonorID int64  `json:"queued_donor_id"`
}

// handleSubmit accepts a caging job. A job without a queued donor id is a
// new submission: its gift and queue row are recorded before dispatch.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var job caging.Job
	if !decode(w, r, &job) {
		return
	}

	if amt := model.GrossAmount(job.Transactions); amt != "" && !amt.Valid() {
		writeError(w, http.StatusBadRequest, "invalid gross_gift_amount", []string{"transactions[0].gross_gift_amount"})
		return
	}

	if job.Submission.QueuedDonorID == 0 {
		if _, err := submission.PrepareDonor(job.Submission); err != nil {
			writeSubmissionError(w, r, err)
			return
		}
		if err := s.record(ctx, &job); err != nil {
			zap.L().Error("server: record submission failed",
				zap.String("request_id", middleware.GetReqID(ctx)), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not record submission", nil)
			return
		}
	}

	if _, err := submission.Prepare(job.Submission); err != nil {
		writeSubmissionError(w, r, err)
		return
	}

	d, err := s.enqueuer.Enqueue(ctx, job)
	if err != nil {
		zap.L().Error("server: enqueue failed",
			zap.String("request_id", middleware.GetReqID(ctx)),
			zap.Int64("queued_donor_id", job.Submission.QueuedDonorID),
			zap.Error(err),
		)
		writeError(w, http.StatusServiceUnavailable, "could not enqueue job", nil)
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{
		Status:        "accepted",
		WorkflowID:    d.WorkflowID,
		RunID:         d.RunID,
		GiftID:        job.Submission.GiftID,
		QueuedDonorID: job.Submission.QueuedDonorID,
	})
}

func (s *Server) record(ctx context.Context, job *caging.Job) error {
	var gift *model.Gift
	if job.Submission.GiftID == 0 {
		gift = &model.Gift{GrossAmount: model.GrossAmount(job.Transactions)}
	}

	q := &model.QueuedDonor{
		GiftID:       job.Submission.GiftID,
		Submission:   job.Submission,
		Transactions: job.Transactions,
	}
	if err := s.recorder.RecordIntake(ctx, gift, q); err != nil {
		return err
	}
	job.Submission.GiftID = q.GiftID
	job.Submission.QueuedDonorID = q.ID
	return nil
}

func (s *Server) handleCategorize(w http.ResponseWriter, r *http.Request) {
	var sub model.Submission
	if !decode(w, r, &sub) {
		return
	}

	res, err := s.dryRun.DryRun(r.Context(), sub)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, caging.ErrDirectoryNotFound):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	default:
		writeSubmissionError(w, r, err)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return false
	}
	return true
}

func writeSubmissionError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *submission.InvalidError
	if errors.As(err, &invalid) {
		writeError(w, http.StatusBadRequest, "invalid submission", invalid.Fields)
		return
	}
	zap.L().Error("server: request failed",
		zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error", nil)
}

type errorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string, fields []string) {
	writeJSON(w, status, errorResponse{Error: msg, Fields: fields})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("server: request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
