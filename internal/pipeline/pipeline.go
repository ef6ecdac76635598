package pipeline

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Config bounds the pipeline's workers and retry schedule.
type Config struct {
	Workers         int
	QueueSize       int
	MaxAttempts     int
	BaseRetryDelay  time.Duration
	MaxRetryDelay   time.Duration
	GenerateTimeout time.Duration
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Workers:         3,
		QueueSize:       64,
		MaxAttempts:     3,
		BaseRetryDelay:  time.Second,
		MaxRetryDelay:   time.Minute,
		GenerateTimeout: 60 * time.Second,
	}
}

type job struct {
	timeslotID string
	topic      string
}

// Pipeline turns a time slot's topic into structured session content ahead
// of class, independent of any live connection. Schedule sets PENDING
// synchronously; a worker pool runs the generation with a bounded timeout
// and bounded retries with exponential backoff, then records READY or
// FAILED on the slot.
type Pipeline struct {
	config    Config
	store     interfaces.Store
	generator interfaces.ContentGenerator

	jobs    chan job
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewPipeline creates a content preparation pipeline.
func NewPipeline(cfg Config, store interfaces.Store, generator interfaces.ContentGenerator) *Pipeline {
	return &Pipeline{
		config:    cfg,
		store:     store,
		generator: generator,
		jobs:      make(chan job, cfg.QueueSize),
	}
}

// Start launches the worker pool.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.running = true
	p.mu.Unlock()

	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.config.Workers; i++ {
		workerID := fmt.Sprintf("prep-worker-%d", i+1)
		p.wg.Add(1)
		go func(id string) {
			defer p.wg.Done()
			p.run(workerCtx, id)
		}(workerID)
	}

	log.Printf("Content pipeline started: workers=%d", p.config.Workers)
	return nil
}

// Stop shuts the worker pool down. Queued jobs stay PENDING and are
// re-triggered by the next topic update.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrNotRunning
	}
	p.running = false
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	log.Printf("Content pipeline stopped")
	return nil
}

// Schedule resets a time slot's topic and prep status in one synchronous
// write, so the caller observes PENDING immediately, then queues the
// asynchronous generation job.
func (p *Pipeline) Schedule(ctx context.Context, timeslotID, topic string) error {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	if topic == "" {
		return ErrEmptyTopic
	}

	if err := p.store.UpdateTopic(ctx, timeslotID, topic); err != nil {
		return fmt.Errorf("failed to update topic: %w", err)
	}

	select {
	case p.jobs <- job{timeslotID: timeslotID, topic: topic}:
		log.Printf("Content job queued: timeslot=%s topic=%q", timeslotID, topic)
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pipeline) run(ctx context.Context, workerID string) {
	for {
		select {
		case j := <-p.jobs:
			p.process(ctx, workerID, j)
		case <-ctx.Done():
			return
		}
	}
}

// process runs one generation job through the bounded retry schedule.
// Every status write re-checks that the job still owns the slot, so a job
// superseded by a newer topic cannot clobber the newer job's status.
func (p *Pipeline) process(ctx context.Context, workerID string, j job) {
	if !p.ownsSlot(ctx, workerID, j) {
		return
	}
	if err := p.store.SetPrepStatus(ctx, j.timeslotID, types.PrepRunning, ""); err != nil {
		log.Printf("[%s] Failed to mark job running: timeslot=%s err=%v", workerID, j.timeslotID, err)
	}

	var lastErr error
	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		content, err := p.generateOnce(ctx, j.topic)
		if err == nil {
			p.commit(ctx, workerID, j, content)
			return
		}
		lastErr = err
		log.Printf("[%s] Generation attempt failed: timeslot=%s attempt=%d/%d err=%v",
			workerID, j.timeslotID, attempt, p.config.MaxAttempts, err)

		if attempt < p.config.MaxAttempts {
			if err := p.backoff(ctx, attempt); err != nil {
				// Shutting down; the slot stays RUNNING until the next
				// topic update resets it.
				return
			}
		}
	}

	if !p.ownsSlot(ctx, workerID, j) {
		return
	}
	if err := p.store.SetPrepStatus(ctx, j.timeslotID, types.PrepFailed, lastErr.Error()); err != nil {
		log.Printf("[%s] Failed to mark job failed: timeslot=%s err=%v", workerID, j.timeslotID, err)
	}
	log.Printf("[%s] Content job failed: timeslot=%s attempts=%d err=%v", workerID, j.timeslotID, p.config.MaxAttempts, lastErr)
}

// ownsSlot reports whether the job's topic still matches the slot. A
// mismatch means a newer topic update superseded this job and the slot's
// status now belongs to the newer job.
func (p *Pipeline) ownsSlot(ctx context.Context, workerID string, j job) bool {
	slot, err := p.store.GetTimeSlot(ctx, j.timeslotID)
	if err != nil {
		log.Printf("[%s] Failed to re-read timeslot: timeslot=%s err=%v", workerID, j.timeslotID, err)
		return false
	}
	if slot.Topic != j.topic {
		log.Printf("[%s] Discarding superseded job: timeslot=%s topic=%q current=%q", workerID, j.timeslotID, j.topic, slot.Topic)
		return false
	}
	return true
}

// generateOnce calls the external collaborator once, bounded by the
// generation timeout; expiry is a pipeline failure, not a crash.
func (p *Pipeline) generateOnce(ctx context.Context, topic string) (*types.LiveContent, error) {
	genCtx, cancel := context.WithTimeout(ctx, p.config.GenerateTimeout)
	defer cancel()
	return p.generator.Generate(genCtx, topic)
}

// commit writes the generated content and marks the slot READY. If the
// slot's topic changed while this job ran, a newer job owns the slot and
// this result is discarded.
func (p *Pipeline) commit(ctx context.Context, workerID string, j job, content *types.LiveContent) {
	if !p.ownsSlot(ctx, workerID, j) {
		return
	}

	content.TimeSlotID = j.timeslotID
	content.Topic = j.topic
	content.UpdatedAt = time.Now().UTC()

	// Full overwrite keyed by timeslot id; rerunning the same job is
	// idempotent.
	if err := p.store.UpsertContent(ctx, content); err != nil {
		log.Printf("[%s] Failed to upsert content: timeslot=%s err=%v", workerID, j.timeslotID, err)
		if err := p.store.SetPrepStatus(ctx, j.timeslotID, types.PrepFailed, err.Error()); err != nil {
			log.Printf("[%s] Failed to mark job failed: timeslot=%s err=%v", workerID, j.timeslotID, err)
		}
		return
	}

	if err := p.store.SetPrepStatus(ctx, j.timeslotID, types.PrepReady, ""); err != nil {
		log.Printf("[%s] Failed to mark job ready: timeslot=%s err=%v", workerID, j.timeslotID, err)
		return
	}

	log.Printf("[%s] Content ready: timeslot=%s quizzes=%d polls=%d flashcards=%d materials=%d",
		workerID, j.timeslotID, len(content.Quizzes), len(content.Polls), len(content.Flashcards), len(content.Materials))
}

// backoff sleeps for the exponential retry delay, capped at the maximum.
func (p *Pipeline) backoff(ctx context.Context, attempt int) error {
	delay := time.Duration(float64(p.config.BaseRetryDelay) * math.Pow(2, float64(attempt-1)))
	if delay > p.config.MaxRetryDelay {
		delay = p.config.MaxRetryDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
