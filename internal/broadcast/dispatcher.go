// Package broadcast fans a payload out to every registered recipient in
// durable, resumable chunks. Progress is checkpointed after each chunk, so a
// crash never replays more than one chunk of deliveries.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediaindex/internal/domain"
	"mediaindex/internal/metrics"
	"mediaindex/internal/ratelimit"
	"mediaindex/internal/storage"
)

// RateClass is the limiter class broadcast deliveries are charged against.
const RateClass = "broadcast"

const defaultChunkSize = 200

// Sender delivers one payload to one recipient. Failures are reported as
// *domain.DeliveryError so the dispatcher can tell permanent from transient.
type Sender interface {
	Send(ctx context.Context, recipientID int64, payload []byte) error
}

type SenderFunc func(ctx context.Context, recipientID int64, payload []byte) error

func (f SenderFunc) Send(ctx context.Context, recipientID int64, payload []byte) error {
	return f(ctx, recipientID, payload)
}

// Notifier receives a progress snapshot after every checkpoint. The websocket
// hub implements it; a nil notifier disables progress pushes.
type Notifier interface {
	BroadcastProgress(status domain.BroadcastStatus)
}

type Config struct {
	ChunkSize int
	Retry     RetryConfig
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = DefaultRetryConfig()
	}
	return c
}

type job struct {
	mu       sync.Mutex
	snap     domain.BroadcastSnapshot
	failures map[domain.FailureKind]int64
	cancel   context.CancelFunc
	done     chan struct{}
}

func (j *job) status() domain.BroadcastStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	failures := make(map[domain.FailureKind]int64, len(j.failures))
	for kind, n := range j.failures {
		failures[kind] = n
	}
	status := domain.BroadcastStatus{
		ID:        j.snap.ID,
		State:     j.snap.State,
		Delivered: j.snap.Delivered,
		Failed:    j.snap.Failed,
		Skipped:   j.snap.Skipped,
		Cursor:    j.snap.Cursor,
		Failures:  failures,
		StartedAt: j.snap.StartedAt,
	}
	if status.State != domain.JobRunning {
		status.FinishedAt = j.snap.UpdatedAt
	}
	return status
}

// Dispatcher owns every running broadcast job in this process.
type Dispatcher struct {
	backend  storage.Backend
	sender   Sender
	limiter  *ratelimit.Limiter
	notifier Notifier
	logger   *slog.Logger
	cfg      Config

	mu   sync.Mutex
	jobs map[domain.JobID]*job
	wg   sync.WaitGroup
}

func NewDispatcher(backend storage.Backend, sender Sender, limiter *ratelimit.Limiter, cfg Config, logger *slog.Logger, notifier Notifier) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		backend:  backend,
		sender:   sender,
		limiter:  limiter,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		jobs:     make(map[domain.JobID]*job),
	}
}

// ActiveJobs reports how many broadcasts are currently delivering.
func (d *Dispatcher) ActiveJobs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

// SetNotifier wires the progress sink. Call it before Resume or the first
// Start; running jobs read the field without a lock.
func (d *Dispatcher) SetNotifier(n Notifier) {
	d.notifier = n
}

// Start persists a new job and begins delivery in the background. The job
// outlives the caller's context.
func (d *Dispatcher) Start(ctx context.Context, payload []byte) (domain.JobID, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("start broadcast: empty payload")
	}
	now := time.Now().UTC()
	snap := domain.BroadcastSnapshot{
		ID:        domain.JobID(uuid.NewString()),
		Payload:   payload,
		State:     domain.JobRunning,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := d.backend.SaveBroadcast(ctx, snap); err != nil {
		return "", err
	}
	d.launch(snap)
	return snap.ID, nil
}

// Resume restarts every job that was running when the previous process died,
// picking up from the last checkpointed cursor.
func (d *Dispatcher) Resume(ctx context.Context) (int, error) {
	snaps, err := d.backend.ListUnfinishedBroadcasts(ctx)
	if err != nil {
		return 0, err
	}
	for _, snap := range snaps {
		d.logger.Info("resuming broadcast",
			slog.String("job", string(snap.ID)),
			slog.Int64("cursor", snap.Cursor),
		)
		d.launch(snap)
	}
	return len(snaps), nil
}

func (d *Dispatcher) launch(snap domain.BroadcastSnapshot) {
	runCtx, cancel := context.WithCancel(context.Background())
	failures := make(map[domain.FailureKind]int64, len(snap.Failures))
	for kind, n := range snap.Failures {
		failures[kind] = n
	}
	j := &job{
		snap:     snap,
		failures: failures,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	d.mu.Lock()
	d.jobs[snap.ID] = j
	d.mu.Unlock()

	metrics.BroadcastsActive.Inc()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer metrics.BroadcastsActive.Dec()
		defer close(j.done)
		d.run(runCtx, j)
		d.mu.Lock()
		delete(d.jobs, snap.ID)
		d.mu.Unlock()
	}()
}

func (d *Dispatcher) run(ctx context.Context, j *job) {
	for {
		j.mu.Lock()
		cursor := j.snap.Cursor
		payload := j.snap.Payload
		id := j.snap.ID
		j.mu.Unlock()

		recipients, err := d.backend.RecipientIDs(ctx, cursor, d.cfg.ChunkSize)
		if err != nil {
			if ctx.Err() != nil {
				d.finish(j, domain.JobCancelled)
				return
			}
			d.logger.Error("recipient chunk fetch failed",
				slog.String("job", string(id)),
				slog.String("error", err.Error()),
			)
			// Back off and retry the same chunk; the cursor has not moved.
			select {
			case <-ctx.Done():
				d.finish(j, domain.JobCancelled)
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if len(recipients) == 0 {
			d.finish(j, domain.JobCompleted)
			return
		}

		if err := d.admitChunk(ctx); err != nil {
			d.finish(j, domain.JobCancelled)
			return
		}

		// Cancellation is checked per recipient, not per chunk: recorded
		// outcomes are checkpointed below either way, and undelivered
		// recipients stay ahead of the cursor for resume.
		for _, recipientID := range recipients {
			if ctx.Err() != nil {
				d.checkpoint(j)
				d.finish(j, domain.JobCancelled)
				return
			}
			d.deliver(ctx, j, recipientID, payload)
		}

		j.mu.Lock()
		j.snap.Cursor = recipients[len(recipients)-1]
		j.mu.Unlock()
		d.checkpoint(j)
	}
}

// admitChunk holds the job until the limiter admits the next chunk. Denials
// pause this job only; other jobs and their buckets are untouched.
func (d *Dispatcher) admitChunk(ctx context.Context) error {
	if d.limiter == nil {
		return nil
	}
	backoff := 50 * time.Millisecond
	for !d.limiter.Allow(RateClass, "global") {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < time.Second {
			backoff *= 2
		}
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, j *job, recipientID int64, payload []byte) {
	err := retryDelivery(ctx, d.cfg.Retry, func() error {
		return d.sender.Send(ctx, recipientID, payload)
	})

	j.mu.Lock()
	defer j.mu.Unlock()
	switch {
	case err == nil:
		j.snap.Delivered++
		metrics.BroadcastDeliveries.WithLabelValues("delivered").Inc()
	case errors.Is(err, context.Canceled):
		// Cancelled mid-delivery; the recipient stays ahead of the cursor
		// and is picked up again on resume.
	default:
		var derr *domain.DeliveryError
		if errors.As(err, &derr) && derr.Permanent() {
			j.snap.Skipped++
			j.failures[derr.Kind]++
			metrics.BroadcastDeliveries.WithLabelValues("skipped").Inc()
		} else {
			j.snap.Failed++
			kind := domain.FailureTransport
			if errors.As(err, &derr) {
				kind = derr.Kind
			}
			j.failures[kind]++
			metrics.BroadcastDeliveries.WithLabelValues("failed").Inc()
		}
	}
}

func (d *Dispatcher) checkpoint(j *job) {
	j.mu.Lock()
	j.snap.UpdatedAt = time.Now().UTC()
	j.snap.Failures = make(map[domain.FailureKind]int64, len(j.failures))
	for kind, n := range j.failures {
		j.snap.Failures[kind] = n
	}
	snap := j.snap
	j.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.backend.SaveBroadcast(ctx, snap); err != nil {
		d.logger.Error("broadcast checkpoint failed",
			slog.String("job", string(snap.ID)),
			slog.String("error", err.Error()),
		)
	}
	if d.notifier != nil {
		d.notifier.BroadcastProgress(j.status())
	}
}

func (d *Dispatcher) finish(j *job, state domain.JobState) {
	j.mu.Lock()
	if j.snap.State == domain.JobRunning {
		j.snap.State = state
	}
	j.mu.Unlock()
	d.checkpoint(j)

	status := j.status()
	d.logger.Info("broadcast finished",
		slog.String("job", string(status.ID)),
		slog.String("state", string(status.State)),
		slog.Int64("delivered", status.Delivered),
		slog.Int64("failed", status.Failed),
		slog.Int64("skipped", status.Skipped),
	)
}

// Cancel stops a running job. Outcomes recorded so far survive; cancelling a
// job that already finished is a no-op.
func (d *Dispatcher) Cancel(ctx context.Context, id domain.JobID) error {
	d.mu.Lock()
	j, running := d.jobs[id]
	d.mu.Unlock()

	if running {
		j.mu.Lock()
		if j.snap.State == domain.JobRunning {
			j.snap.State = domain.JobCancelled
		}
		j.mu.Unlock()
		j.cancel()
		<-j.done
		return nil
	}

	snap, err := d.backend.GetBroadcast(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrJobNotFound
		}
		return err
	}
	if snap.State != domain.JobRunning {
		return nil
	}
	// Running on paper but not in this process: a leftover from a crash that
	// Resume has not picked up. Mark it cancelled durably.
	snap.State = domain.JobCancelled
	snap.UpdatedAt = time.Now().UTC()
	return d.backend.SaveBroadcast(ctx, snap)
}

// Status reports live counters for running jobs and the durable snapshot for
// finished ones.
func (d *Dispatcher) Status(ctx context.Context, id domain.JobID) (domain.BroadcastStatus, error) {
	d.mu.Lock()
	j, running := d.jobs[id]
	d.mu.Unlock()

	if running {
		return j.status(), nil
	}

	snap, err := d.backend.GetBroadcast(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.BroadcastStatus{}, domain.ErrJobNotFound
		}
		return domain.BroadcastStatus{}, err
	}
	failures := make(map[domain.FailureKind]int64, len(snap.Failures))
	for kind, n := range snap.Failures {
		failures[kind] = n
	}
	status := domain.BroadcastStatus{
		ID:        snap.ID,
		State:     snap.State,
		Delivered: snap.Delivered,
		Failed:    snap.Failed,
		Skipped:   snap.Skipped,
		Cursor:    snap.Cursor,
		Failures:  failures,
		StartedAt: snap.StartedAt,
	}
	if snap.State != domain.JobRunning {
		status.FinishedAt = snap.UpdatedAt
	}
	return status, nil
}

// Shutdown cancels every running job and waits for their final checkpoints.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	for _, j := range d.jobs {
		j.cancel()
	}
	d.mu.Unlock()
	d.wg.Wait()
}
