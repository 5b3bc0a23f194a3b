package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/felixgeelhaar/prosecheck/internal/shared/infrastructure/eventbus"
)

// RoutingKeyRecorded is published for every stored record.
const RoutingKeyRecorded = "feedback.recorded"

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPublisher publishes recorded feedback to p.
func WithPublisher(p eventbus.Publisher) ServiceOption {
	return func(s *Service) { s.publisher = p }
}

// WithAutoLearn runs learning cycles in the background when they are due.
// Disable it when a separate worker consumes the events.
func WithAutoLearn(on bool) ServiceOption {
	return func(s *Service) { s.autoLearn = on }
}

// Service ingests feedback.
type Service struct {
	store      Store
	anonymizer *Anonymizer
	learner    *Learner
	publisher  eventbus.Publisher
	autoLearn  bool
	logger     *slog.Logger

	wg sync.WaitGroup
}

// NewService creates the feedback service.
func NewService(store Store, anonymizer *Anonymizer, learner *Learner, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:      store,
		anonymizer: anonymizer,
		learner:    learner,
		publisher:  eventbus.NoopPublisher{},
		autoLearn:  true,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Learner returns the learner.
func (s *Service) Learner() *Learner {
	return s.learner
}

// ProcessFeedback anonymizes and stores one submission, updates the
// pattern confidence and publishes the record. A learning cycle is started
// in the background when one is due.
func (s *Service) ProcessFeedback(ctx context.Context, sub Submission) (*Record, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	rec := s.anonymizer.Anonymize(sub)
	if err := s.store.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("store feedback: %w", err)
	}

	due := false
	if s.autoLearn {
		due = s.learner.Observe(*rec)
	}

	if event, err := eventbus.NewEvent(RoutingKeyRecorded, rec); err != nil {
		s.logger.Error("build feedback event", "error", err)
	} else if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish feedback event", "seq", rec.Seq, "error", err)
	}

	if due {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runCycle(context.WithoutCancel(ctx))
		}()
	}
	return rec, nil
}

// RunLearningCycle runs a cycle now.
func (s *Service) RunLearningCycle(ctx context.Context) (CycleReport, error) {
	return s.learner.RunCycle(ctx)
}

func (s *Service) runCycle(ctx context.Context) {
	if _, err := s.learner.RunCycle(ctx); err != nil && !errors.Is(err, ErrCycleRunning) {
		s.logger.Error("learning cycle failed", "error", err)
	}
}

// Recent returns up to limit of the newest records, oldest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]Record, error) {
	all, err := s.store.Since(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// Wait blocks until background cycles finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close waits for background cycles and closes the store and publisher.
func (s *Service) Close() error {
	s.wg.Wait()
	return errors.Join(s.publisher.Close(), s.store.Close())
}

// RecordedHandler lets a worker learn from events published by other
// processes.
type RecordedHandler struct {
	learner *Learner
	logger  *slog.Logger
}

// NewRecordedHandler creates the worker-side handler.
func NewRecordedHandler(learner *Learner, logger *slog.Logger) *RecordedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordedHandler{learner: learner, logger: logger}
}

// RoutingKeys implements eventbus.Handler.
func (h *RecordedHandler) RoutingKeys() []string {
	return []string{RoutingKeyRecorded}
}

// Handle implements eventbus.Handler. It runs a cycle inline when due so
// that the queue applies backpressure.
func (h *RecordedHandler) Handle(ctx context.Context, event *eventbus.Event) error {
	var rec Record
	if err := event.Decode(&rec); err != nil {
		h.logger.Error("dropping malformed feedback event", "event_id", event.ID, "error", err)
		return nil
	}
	if !h.learner.Observe(rec) {
		return nil
	}
	_, err := h.learner.RunCycle(ctx)
	if errors.Is(err, ErrCycleRunning) {
		return nil
	}
	return err
}
