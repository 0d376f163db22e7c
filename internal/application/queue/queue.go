// Package queue implements the submission pipeline: a non-blocking ingress
// that accepts jobs onto a bounded hand-off channel, and a single writer
// goroutine that drains the channel into durable storage with retry and a
// dead-letter sink.
package queue

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/tidefall/convoy/internal/domain"
	"github.com/tidefall/convoy/internal/jobid"
)

var (
	meter = otel.Meter("github.com/tidefall/convoy/internal/application/queue")

	submissionsTotal, _ = meter.Int64Counter("convoy.queue.submissions",
		metric.WithDescription("Submissions accepted onto the hand-off channel"))
	saturatedTotal, _ = meter.Int64Counter("convoy.queue.saturated",
		metric.WithDescription("Submissions rejected because the hand-off was full"))
	writesTotal, _ = meter.Int64Counter("convoy.queue.writes",
		metric.WithDescription("Job rows durably inserted by the writer"))
	deadLettersTotal, _ = meter.Int64Counter("convoy.queue.dead_letters",
		metric.WithDescription("Submissions moved to the dead-letter table"))
)

// Default configuration values.
const (
	DefaultHandoffSize      = 1000
	DefaultMaxRetries       = 3
	DefaultWriteAttempts    = 5
	DefaultWriteBaseDelay   = 100 * time.Millisecond
	DefaultWriteMaxDelay    = 5 * time.Second
	DefaultOperationTimeout = 5 * time.Second
)

// Config holds configuration for the Queue.
type Config struct {
	HandoffSize      int           // Buffer size of the ingress hand-off channel
	MaxRetries       int           // Execution retry budget stamped on each job
	WriteAttempts    int           // Insert attempts before dead-lettering
	WriteBaseDelay   time.Duration // Backoff base between insert attempts
	WriteMaxDelay    time.Duration // Backoff cap between insert attempts
	OperationTimeout time.Duration // Timeout for storage operations
}

// Queue accepts job submissions and persists them asynchronously.
// Accept never blocks on the database: the caller gets an answer from
// channel capacity alone, and the single writer goroutine does the rest.
type Queue struct {
	repo         Repository
	appCtx       context.Context // Application context, cancelled on shutdown
	handoff      chan domain.JobMessage
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
	config       Config
	logger       *slog.Logger
}

// NewQueue creates the queue and starts the writer goroutine.
// The ctx parameter should be an application-level context that gets
// cancelled on shutdown. Applies application defaults for zero or invalid
// config values.
func NewQueue(ctx context.Context, repo Repository, config Config, logger *slog.Logger) *Queue {
	if config.HandoffSize <= 0 {
		config.HandoffSize = DefaultHandoffSize
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.WriteAttempts <= 0 {
		config.WriteAttempts = DefaultWriteAttempts
	}
	if config.WriteBaseDelay <= 0 {
		config.WriteBaseDelay = DefaultWriteBaseDelay
	}
	if config.WriteMaxDelay <= 0 {
		config.WriteMaxDelay = DefaultWriteMaxDelay
	}
	if config.OperationTimeout <= 0 {
		config.OperationTimeout = DefaultOperationTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		repo:         repo,
		appCtx:       ctx,
		handoff:      make(chan domain.JobMessage, config.HandoffSize),
		shutdownChan: make(chan struct{}),
		config:       config,
		logger:       logger,
	}

	q.wg.Add(1)
	go q.drain()

	return q
}

// Accept validates a submission, assigns it an identifier, and queues it
// for persistence. Returns the assigned job ID immediately; durability is
// eventual. Returns domain.ErrQueueSaturated when the hand-off is full,
// which is the caller's backpressure signal.
func (q *Queue) Accept(ctx context.Context, jobType string, config []byte) (string, error) {
	if jobType == "" {
		return "", domain.ErrJobTypeRequired
	}

	msg := domain.JobMessage{
		ID:        jobid.New(),
		Type:      jobType,
		Config:    config,
		CreatedAt: time.Now().UTC(),
	}

	select {
	case q.handoff <- msg:
		submissionsTotal.Add(ctx, 1)
		return msg.ID, nil
	default:
		saturatedTotal.Add(ctx, 1)
		q.logger.WarnContext(ctx, "submission rejected, hand-off saturated",
			slog.String("job_type", jobType),
			slog.Int("capacity", q.config.HandoffSize))
		return "", domain.ErrQueueSaturated
	}
}

// Depth returns the number of submissions waiting in the hand-off.
func (q *Queue) Depth() int {
	return len(q.handoff)
}

// drain is the single writer goroutine. One consumer means inserts are
// serialized and the ON CONFLICT guard is the only concurrency control
// the table needs from this path.
func (q *Queue) drain() {
	defer q.wg.Done()

	for {
		select {
		case msg := <-q.handoff:
			q.persist(q.appCtx, msg)

		case <-q.shutdownChan:
			// Drain remaining submissions before exiting. Uses a fresh
			// context because appCtx is already cancelled during shutdown;
			// the per-operation timeout still bounds each insert.
			for {
				select {
				case msg := <-q.handoff:
					q.persist(context.Background(), msg)
				default:
					return
				}
			}
		}
	}
}

// persist inserts one submission, retrying transient failures with
// exponential backoff and full jitter. A message that exhausts its
// attempts goes to the dead-letter table instead of being lost.
func (q *Queue) persist(baseCtx context.Context, msg domain.JobMessage) {
	var lastErr error

	for attempt := 1; attempt <= q.config.WriteAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(baseCtx, q.config.OperationTimeout)
		err := q.repo.InsertJob(ctx, msg, q.config.MaxRetries)
		cancel()

		if err == nil {
			writesTotal.Add(baseCtx, 1)
			return
		}

		// A cancelled application context fails inserts without saying
		// anything about the store, and the message is still healthy. Hand
		// it to the shutdown path: a fresh uncancellable context, with each
		// attempt still bounded by the per-operation timeout. Only the live
		// path can take this branch, so the recursion is one level deep.
		if baseCtx.Err() != nil {
			q.persist(context.Background(), msg)
			return
		}
		lastErr = err

		q.logger.WarnContext(baseCtx, "job insert failed",
			slog.String("job_id", msg.ID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		if attempt < q.config.WriteAttempts {
			select {
			case <-time.After(retryDelay(attempt, q.config.WriteBaseDelay, q.config.WriteMaxDelay)):
			case <-baseCtx.Done():
				q.persist(context.Background(), msg)
				return
			}
		}
	}

	q.deadLetter(msg, lastErr)
}

func (q *Queue) deadLetter(msg domain.JobMessage, cause error) {
	// Background context: dead-lettering is the last stop for a message and
	// must be attempted even when the application context is cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), q.config.OperationTimeout)
	defer cancel()

	dl := &domain.DeadLetterSubmission{
		ID:        jobid.New(),
		JobID:     msg.ID,
		JobType:   msg.Type,
		Config:    msg.Config,
		CreatedAt: msg.CreatedAt,
		FailedAt:  time.Now().UTC(),
		Attempts:  q.config.WriteAttempts,
		LastError: cause.Error(),
	}
	if err := q.repo.InsertDeadLetter(ctx, dl); err != nil {
		// Nothing durable left to try. The submission is lost; make the
		// loss loud in the logs.
		q.logger.ErrorContext(ctx, "dead-letter write failed, submission lost",
			slog.String("job_id", msg.ID),
			slog.String("job_type", msg.Type),
			slog.String("insert_error", cause.Error()),
			slog.String("dead_letter_error", err.Error()))
		return
	}

	deadLettersTotal.Add(ctx, 1)
	q.logger.ErrorContext(ctx, "submission dead-lettered",
		slog.String("job_id", msg.ID),
		slog.String("job_type", msg.Type),
		slog.Int("attempts", q.config.WriteAttempts),
		slog.String("error", cause.Error()))
}

// ListDeadLetters returns dead-lettered submissions for manual review.
func (q *Queue) ListDeadLetters(ctx context.Context, limit int) ([]*domain.DeadLetterSubmission, error) {
	if limit <= 0 {
		limit = 50
	}
	dls, err := q.repo.ListDeadLetters(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return dls, nil
}

// Shutdown stops accepting channel reads from the live path, drains the
// remaining submissions, and waits for the writer to finish. Respects the
// provided context's deadline. Idempotent.
func (q *Queue) Shutdown(ctx context.Context) error {
	var shutdownErr error
	q.shutdownOnce.Do(func() {
		close(q.shutdownChan)

		done := make(chan struct{})
		go func() {
			q.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			shutdownErr = fmt.Errorf("shutdown timeout: %w", ctx.Err())
		}
	})
	return shutdownErr
}

// retryDelay computes exponential backoff with full jitter.
// Formula: random(0, min(maxDelay, baseDelay * 2^(attempt-1)))
func retryDelay(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	backoff := float64(baseDelay) * math.Pow(2, float64(attempt-1))
	if backoff > float64(maxDelay) {
		backoff = float64(maxDelay)
	}

	maxJitter := int64(backoff)
	if maxJitter <= 0 {
		return baseDelay
	}

	jitter, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
	if err != nil {
		// Fall back to half the backoff if the entropy source fails
		return time.Duration(maxJitter / 2)
	}
	return time.Duration(jitter.Int64())
}
