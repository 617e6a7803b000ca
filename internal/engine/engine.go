// Package engine distributes audit and repair tasks over a bounded
// worker pool for bulk runs across many profiles.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/fpwarden/api/schemas"
	"github.com/xkilldash9x/fpwarden/internal/config"
	"github.com/xkilldash9x/fpwarden/internal/normalize"
)

// Auditor runs one consistency audit against a namespace record.
type Auditor interface {
	Audit(ctx context.Context, path string, opts *schemas.ConsistencyOptions) (*schemas.ConsistencyResult, error)
}

// Repairer runs one normalization pass against a namespace record.
type Repairer interface {
	Normalize(ctx context.Context, path string) (normalize.ChangeLog, error)
}

// Task is one unit of bulk work: audit a record, optionally repairing
// it first.
type Task struct {
	Path    string
	Options *schemas.ConsistencyOptions
	Repair  bool
}

// Outcome is the terminal state of one task.
type Outcome struct {
	Path    string
	Result  *schemas.ConsistencyResult
	Changes normalize.ChangeLog
	Err     error
}

// TaskEngine fans tasks out to a fixed pool of workers.
type TaskEngine struct {
	cfg      config.EngineConfig
	logger   *zap.Logger
	auditor  Auditor
	repairer Repairer
	wg       sync.WaitGroup
}

// New creates a TaskEngine. The repairer may be nil when only audits
// will be queued.
func New(cfg config.EngineConfig, auditor Auditor, repairer Repairer, logger *zap.Logger) *TaskEngine {
	return &TaskEngine{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "task_engine")),
		auditor:  auditor,
		repairer: repairer,
	}
}

// Start launches the worker pool consuming from taskChan. Outcomes are
// sent to results when it is non-nil. Workers exit when taskChan is
// closed and drained; callers then use Stop to wait for them.
func (e *TaskEngine) Start(ctx context.Context, taskChan <-chan Task, results chan<- Outcome) {
	concurrency := e.cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	e.logger.Info("Starting task engine worker pool", zap.Int("concurrency", concurrency))

	for i := 0; i < concurrency; i++ {
		e.wg.Add(1)
		go e.runWorker(ctx, i+1, taskChan, results)
	}
}

// Stop waits for all workers to finish. The task channel is closed by
// the producer; the engine just drains.
func (e *TaskEngine) Stop() {
	e.logger.Info("Stopping task engine, waiting for workers to finish")
	e.wg.Wait()
	e.logger.Info("Task engine stopped")
}

func (e *TaskEngine) runWorker(ctx context.Context, workerID int, taskChan <-chan Task, results chan<- Outcome) {
	defer e.wg.Done()
	logger := e.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("Worker goroutine started")

	for task := range taskChan {
		outcome := e.process(ctx, task, logger)
		if results != nil {
			results <- outcome
		}
	}

	logger.Debug("Task queue closed and drained, worker shutting down")
}

func (e *TaskEngine) process(ctx context.Context, task Task, logger *zap.Logger) Outcome {
	logger.Info("Processing task", zap.String("path", task.Path), zap.Bool("repair", task.Repair))

	timeout := e.cfg.TaskTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome := Outcome{Path: task.Path}

	if task.Repair && e.repairer != nil {
		changes, err := e.repairer.Normalize(taskCtx, task.Path)
		if err != nil {
			logger.Error("Repair failed", zap.String("path", task.Path), zap.Error(err))
			outcome.Err = err
			return outcome
		}
		outcome.Changes = changes
	}

	result, err := e.auditor.Audit(taskCtx, task.Path, task.Options)
	if err != nil {
		logger.Error("Audit failed", zap.String("path", task.Path), zap.Error(err))
		outcome.Err = err
		return outcome
	}
	outcome.Result = result

	logger.Info("Task complete",
		zap.String("path", task.Path),
		zap.Int("score", result.Score),
		zap.String("verdict", result.Verdict))
	return outcome
}
