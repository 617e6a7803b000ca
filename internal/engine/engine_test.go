package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fpwarden/api/schemas"
	"github.com/xkilldash9x/fpwarden/internal/config"
	"github.com/xkilldash9x/fpwarden/internal/normalize"
)

type fakeAuditor struct {
	mu       sync.Mutex
	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	failFor  map[string]error
	delay    time.Duration
}

func (f *fakeAuditor) Audit(ctx context.Context, path string, _ *schemas.ConsistencyOptions) (*schemas.ConsistencyResult, error) {
	f.calls.Add(1)
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	err := f.failFor[path]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &schemas.ConsistencyResult{Score: 90, Verdict: "OK"}, nil
}

type fakeRepairer struct {
	calls atomic.Int32
}

func (f *fakeRepairer) Normalize(context.Context, string) (normalize.ChangeLog, error) {
	f.calls.Add(1)
	return normalize.ChangeLog{"geolocation_js_set": true}, nil
}

func run(e *TaskEngine, tasks []Task) []Outcome {
	taskChan := make(chan Task)
	results := make(chan Outcome, len(tasks))
	e.Start(context.Background(), taskChan, results)
	for _, task := range tasks {
		taskChan <- task
	}
	close(taskChan)
	e.Stop()
	close(results)

	var out []Outcome
	for o := range results {
		out = append(out, o)
	}
	return out
}

func TestEngineProcessesAllTasks(t *testing.T) {
	auditor := &fakeAuditor{}
	e := New(config.EngineConfig{WorkerConcurrency: 3}, auditor, nil, zap.NewNop())

	tasks := make([]Task, 10)
	for i := range tasks {
		tasks[i] = Task{Path: string(rune('a' + i))}
	}

	outcomes := run(e, tasks)
	require.Len(t, outcomes, 10)
	for _, o := range outcomes {
		require.NoError(t, o.Err)
		assert.Equal(t, 90, o.Result.Score)
	}
	assert.Equal(t, int32(10), auditor.calls.Load())
}

func TestEngineBoundsConcurrency(t *testing.T) {
	auditor := &fakeAuditor{delay: 30 * time.Millisecond}
	e := New(config.EngineConfig{WorkerConcurrency: 2}, auditor, nil, zap.NewNop())

	tasks := make([]Task, 8)
	for i := range tasks {
		tasks[i] = Task{Path: string(rune('a' + i))}
	}

	run(e, tasks)
	assert.LessOrEqual(t, auditor.peak.Load(), int32(2))
}

func TestEngineRepairBeforeAudit(t *testing.T) {
	auditor := &fakeAuditor{}
	repairer := &fakeRepairer{}
	e := New(config.EngineConfig{WorkerConcurrency: 1}, auditor, repairer, zap.NewNop())

	outcomes := run(e, []Task{{Path: "p1", Repair: true}, {Path: "p2"}})
	require.Len(t, outcomes, 2)

	assert.Equal(t, int32(1), repairer.calls.Load())
	assert.Equal(t, int32(2), auditor.calls.Load())
	for _, o := range outcomes {
		if o.Path == "p1" {
			assert.Equal(t, normalize.ChangeLog{"geolocation_js_set": true}, o.Changes)
		} else {
			assert.Nil(t, o.Changes)
		}
	}
}

func TestEngineRecordsFailures(t *testing.T) {
	auditor := &fakeAuditor{failFor: map[string]error{"bad": errors.New("record corrupted")}}
	e := New(config.EngineConfig{WorkerConcurrency: 2}, auditor, nil, zap.NewNop())

	outcomes := run(e, []Task{{Path: "good"}, {Path: "bad"}})
	require.Len(t, outcomes, 2)

	var failed, ok int
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			assert.Equal(t, "bad", o.Path)
		} else {
			ok++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, ok)
}

func TestEngineTaskTimeout(t *testing.T) {
	auditor := &fakeAuditor{delay: time.Second}
	e := New(config.EngineConfig{WorkerConcurrency: 1, TaskTimeout: 20 * time.Millisecond}, auditor, nil, zap.NewNop())

	outcomes := run(e, []Task{{Path: "slow"}})
	require.Len(t, outcomes, 1)
	require.Error(t, outcomes[0].Err)
	assert.ErrorIs(t, outcomes[0].Err, context.DeadlineExceeded)
}
