package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"finsight/internal/export"
	"finsight/internal/ledger"
)

// UserExporter rewrites one user's export. *worker.ExportWorker implements it.
type UserExporter interface {
	ExportUser(ctx context.Context, userID, trigger string) error
}

// exportErrorRecorder is implemented by outboxes that keep the last failure.
type exportErrorRecorder interface {
	MarkExportError(ctx context.Context, userID string, cause error) error
}

// OutboxProcessorConfig holds configuration for the outbox processor
type OutboxProcessorConfig struct {
	// PollInterval is how often to check for pending users (default: 30s)
	PollInterval time.Duration

	// BatchSize is the max number of users exported per poll cycle (default: 10)
	BatchSize int

	// MaxRetries is how many consecutive failures park a user (default: 3)
	MaxRetries int
}

func DefaultOutboxProcessorConfig() OutboxProcessorConfig {
	return OutboxProcessorConfig{
		PollInterval: 30 * time.Second,
		BatchSize:    10,
		MaxRetries:   3,
	}
}

// OutboxStats counts processor outcomes since start.
type OutboxStats struct {
	Exported int
	Failed   int
	Parked   int
}

// OutboxProcessor polls the export outbox and exports users whose ledger
// changed. It recovers changes whose events were lost or never published.
type OutboxProcessor struct {
	outbox   ledger.ExportOutbox
	exporter UserExporter
	config   OutboxProcessorConfig
	logger   *slog.Logger

	// Lifecycle management
	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	failures map[string]int
	stats    OutboxStats
}

func NewOutboxProcessor(outbox ledger.ExportOutbox, exporter UserExporter, config OutboxProcessorConfig) *OutboxProcessor {
	def := DefaultOutboxProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = def.MaxRetries
	}
	return &OutboxProcessor{
		outbox:   outbox,
		exporter: exporter,
		config:   config,
		logger:   slog.Default().With("component", "worker"),
		failures: make(map[string]int),
	}
}

func (p *OutboxProcessor) WithLogger(logger *slog.Logger) *OutboxProcessor {
	p.logger = logger.With("component", "worker")
	return p
}

// Start begins the processing loop. Returns an error if already running.
func (p *OutboxProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("outbox processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Outbox processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)

	return nil
}

// Stop signals the loop and waits for the current batch to finish.
func (p *OutboxProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.running = false
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		p.logger.InfoContext(ctx, "Outbox processor stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Outbox processor stop timed out")
		return ctx.Err()
	}
}

func (p *OutboxProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *OutboxProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	// Catch up on anything left over from a previous run.
	p.ProcessBatch(ctx, export.TriggerStartup)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessBatch(ctx, export.TriggerOutbox)
		}
	}
}

// ProcessBatch exports one batch of pending users and returns how many
// succeeded.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context, trigger string) int {
	p.mu.Lock()
	parked := p.parkedLocked()
	stopCh := p.stopCh
	p.mu.Unlock()

	pending, err := p.outbox.PendingExports(ctx, p.config.BatchSize+len(parked))
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to read export outbox", "error", err)
		return 0
	}

	exported := 0
	attempted := 0
	for _, item := range pending {
		if attempted >= p.config.BatchSize {
			break
		}
		userID := item.UserID
		if _, skip := parked[userID]; skip {
			continue
		}
		select {
		case <-stopCh:
			return exported
		case <-ctx.Done():
			return exported
		default:
		}

		attempted++
		if err := p.exporter.ExportUser(ctx, userID, trigger); err != nil {
			p.handleFailure(ctx, userID, err)
			continue
		}
		p.handleSuccess(ctx, item)
		exported++
	}

	if attempted > 0 {
		p.logger.DebugContext(ctx, "Outbox batch processed",
			"attempted", attempted,
			"exported", exported)
	}
	return exported
}

// handleSuccess marks the version read before the export, so writes that
// landed while it ran keep the user pending for the next cycle.
func (p *OutboxProcessor) handleSuccess(ctx context.Context, item ledger.PendingExport) {
	userID := item.UserID
	if err := p.outbox.MarkExported(ctx, userID, item.Version); err != nil {
		// The sheet is current; the user is retried next cycle.
		p.logger.WarnContext(ctx, "Failed to mark user exported", "user_id", userID, "error", err)
	}
	p.mu.Lock()
	delete(p.failures, userID)
	p.stats.Exported++
	p.mu.Unlock()
}

func (p *OutboxProcessor) handleFailure(ctx context.Context, userID string, cause error) {
	p.mu.Lock()
	p.failures[userID]++
	attempts := p.failures[userID]
	p.stats.Failed++
	p.mu.Unlock()

	if rec, ok := p.outbox.(exportErrorRecorder); ok {
		if err := rec.MarkExportError(ctx, userID, cause); err != nil {
			p.logger.ErrorContext(ctx, "Failed to record export error", "user_id", userID, "error", err)
		}
	}

	if attempts >= p.config.MaxRetries {
		p.logger.ErrorContext(ctx, "Export parked after max retries",
			"user_id", userID,
			"attempts", attempts,
			"error", cause)
		return
	}
	p.logger.WarnContext(ctx, "Export failed, will retry",
		"user_id", userID,
		"attempt", attempts,
		"error", cause)
}

func (p *OutboxProcessor) parkedLocked() map[string]struct{} {
	parked := make(map[string]struct{})
	for u, n := range p.failures {
		if n >= p.config.MaxRetries {
			parked[u] = struct{}{}
		}
	}
	return parked
}

func (p *OutboxProcessor) Stats() OutboxStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Parked = len(p.parkedLocked())
	return s
}

// RetryFailed unparks every user so the next batch tries them again.
func (p *OutboxProcessor) RetryFailed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.parkedLocked())
	p.failures = make(map[string]int)
	return n
}
