// Package queue runs quotation jobs asynchronously over Redis. The HTTP
// API enqueues a task per quotation; worker processes consume them and
// drive the pipeline runner.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/quote-engine/internal/config"
	"github.com/sells-group/quote-engine/internal/model"
	"github.com/sells-group/quote-engine/internal/resilience"
	"github.com/sells-group/quote-engine/pkg/serpapi"
)

// TypeQuotationRun is the task type for a quotation run.
const TypeQuotationRun = "quotation:run"

// RunPayload is the task body for TypeQuotationRun.
type RunPayload struct {
	QuotationID string `json:"quotation_id"`
	Query       string `json:"query"`
}

// RedisOpt builds the asynq Redis connection options from configuration.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

// NewRunTask builds the asynq task for a quotation run.
func NewRunTask(p RunPayload) (*asynq.Task, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, eris.Wrap(err, "queue: marshal run payload")
	}
	return asynq.NewTask(TypeQuotationRun, body), nil
}

// Client enqueues quotation runs.
type Client struct {
	inner    *asynq.Client
	maxRetry int
}

// NewClient creates an enqueue client. maxRetry bounds how many times a
// failed run is re-attempted before landing in the archive.
func NewClient(opt asynq.RedisClientOpt, maxRetry int) *Client {
	return &Client{inner: asynq.NewClient(opt), maxRetry: maxRetry}
}

// EnqueueRun schedules a quotation run.
func (c *Client) EnqueueRun(ctx context.Context, quotationID, query string) error {
	task, err := NewRunTask(RunPayload{QuotationID: quotationID, Query: query})
	if err != nil {
		return err
	}
	info, err := c.inner.EnqueueContext(ctx, task,
		asynq.MaxRetry(c.maxRetry),
		asynq.Timeout(30*time.Minute),
	)
	if err != nil {
		return eris.Wrap(err, "queue: enqueue run")
	}
	zap.L().Info("queue: run enqueued",
		zap.String("quotation_id", quotationID),
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue))
	return nil
}

// Close releases the client's Redis connections.
func (c *Client) Close() error {
	return eris.Wrap(c.inner.Close(), "queue: close client")
}

// Runner is the slice of the pipeline the handler needs.
type Runner interface {
	Run(ctx context.Context, quotationID, query string) (*model.QuoteResult, error)
}

// Handler processes quotation run tasks.
type Handler struct {
	runner Runner
}

// NewHandler creates a task handler backed by the given runner.
func NewHandler(r Runner) *Handler {
	return &Handler{runner: r}
}

// HandleRun executes one quotation run task. Provider transport errors are
// surfaced for asynq's retry; everything else is marked non-retryable since
// the runner already persisted the terminal state.
func (h *Handler) HandleRun(ctx context.Context, task *asynq.Task) error {
	var p RunPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("queue: decode run payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.QuotationID == "" || p.Query == "" {
		return fmt.Errorf("queue: run payload missing quotation_id or query: %w", asynq.SkipRetry)
	}

	_, err := h.runner.Run(ctx, p.QuotationID, p.Query)
	if err == nil {
		return nil
	}
	if retryable(err) {
		return eris.Wrapf(err, "queue: run quotation %s", p.QuotationID)
	}
	return fmt.Errorf("queue: run quotation %s: %v: %w", p.QuotationID, err, asynq.SkipRetry)
}

// retryable reports whether a failed run is worth re-attempting: provider
// transport faults and interrupted contexts, nothing else.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *serpapi.APIError
	if errors.As(err, &apiErr) {
		return resilience.IsTransientHTTPStatus(apiErr.StatusCode)
	}
	return resilience.IsTransient(err)
}

// Server consumes quotation run tasks.
type Server struct {
	srv *asynq.Server
	mux *asynq.ServeMux
}

// NewServer creates a worker server with the given handler.
func NewServer(opt asynq.RedisClientOpt, concurrency int, h *Handler) *Server {
	if concurrency <= 0 {
		concurrency = 1
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Logger:      zapAsynqLogger{},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			zap.L().Error("queue: task failed",
				zap.String("type", task.Type()),
				zap.Error(err))
		}),
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeQuotationRun, h.HandleRun)
	return &Server{srv: srv, mux: mux}
}

// Run blocks processing tasks until Shutdown is called or a signal arrives.
func (s *Server) Run() error {
	return eris.Wrap(s.srv.Run(s.mux), "queue: server run")
}

// Start begins processing without blocking.
func (s *Server) Start() error {
	return eris.Wrap(s.srv.Start(s.mux), "queue: server start")
}

// Shutdown drains in-flight tasks and stops the server.
func (s *Server) Shutdown() {
	s.srv.Shutdown()
}

// zapAsynqLogger adapts the global zap logger to asynq's logging interface.
type zapAsynqLogger struct{}

func (zapAsynqLogger) Debug(args ...any) { zap.S().Debug(args...) }
func (zapAsynqLogger) Info(args ...any)  { zap.S().Info(args...) }
func (zapAsynqLogger) Warn(args ...any)  { zap.S().Warn(args...) }
func (zapAsynqLogger) Error(args ...any) { zap.S().Error(args...) }
func (zapAsynqLogger) Fatal(args ...any) { zap.S().Fatal(args...) }
