package warmup

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fpwarden/internal/config"
)

var sessionTypes = []string{"follower_hunt", "engagement", "explore", "balanced"}

// Planner builds staggered warm-up schedules.
type Planner struct {
	store *Store
	cfg   config.WarmupConfig
	rng   *rand.Rand
	log   *zap.Logger
}

// NewPlanner builds a planner. A zero seed seeds from the clock.
func NewPlanner(store *Store, cfg config.WarmupConfig, seed int64, logger *zap.Logger) *Planner {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Planner{
		store: store,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
		log:   logger.Named("warmup"),
	}
}

// ScheduleEntry is one profile's slot in a generated plan.
type ScheduleEntry struct {
	SessionID      int64
	ProfileID      string
	StartOffsetMin float64
	DurationMin    int
	SessionType    string
	Actions        map[string]int
}

// Plan registers the given profiles, creates a batch and lays their
// sessions out evenly across the configured total duration. Each
// profile gets one session whose action budget follows its
// personality's activity level.
func (p *Planner) Plan(ctx context.Context, batchName string, profileIDs []string) (int64, []ScheduleEntry, error) {
	if len(profileIDs) == 0 {
		return 0, nil, eris.New("warmup: no profiles to plan")
	}
	if batchName == "" {
		batchName = fmt.Sprintf("warmup_%s", time.Now().UTC().Format("20060102_150405"))
	}

	for _, id := range profileIDs {
		if _, err := p.store.Profile(ctx, id); err != nil {
			personality := GeneratePersonality(p.rng, p.cfg.Timezone)
			if err := p.store.RegisterProfile(ctx, id, id, personality); err != nil {
				return 0, nil, err
			}
		}
	}

	batchID, err := p.store.CreateBatch(ctx, batchName, p.cfg.TotalDurationMinutes, len(profileIDs))
	if err != nil {
		return 0, nil, err
	}

	stagger := float64(p.cfg.TotalDurationMinutes) / float64(len(profileIDs))
	schedule := make([]ScheduleEntry, 0, len(profileIDs))

	for i, id := range profileIDs {
		row, err := p.store.Profile(ctx, id)
		if err != nil {
			return 0, nil, err
		}

		duration := p.cfg.SessionMinMinutes
		if spread := p.cfg.SessionMaxMinutes - p.cfg.SessionMinMinutes; spread > 0 {
			duration += p.rng.Intn(spread + 1)
		}
		sessionType := sessionTypes[p.rng.Intn(len(sessionTypes))]
		actions := p.actionBudget(row.Personality.ActivityLevel)

		sess := Session{
			BatchID:          batchID,
			ProfileID:        id,
			SessionType:      sessionType,
			StartOffsetMin:   float64(i) * stagger,
			ExpectedDuration: duration,
			ActionsPlanned:   actions,
		}
		sessionID, err := p.store.CreateSession(ctx, sess)
		if err != nil {
			return 0, nil, err
		}

		schedule = append(schedule, ScheduleEntry{
			SessionID:      sessionID,
			ProfileID:      id,
			StartOffsetMin: sess.StartOffsetMin,
			DurationMin:    duration,
			SessionType:    sessionType,
			Actions:        actions,
		})
	}

	p.log.Info("Warmup schedule generated",
		zap.Int64("batch_id", batchID),
		zap.Int("profiles", len(profileIDs)),
		zap.Int("total_minutes", p.cfg.TotalDurationMinutes))
	return batchID, schedule, nil
}

// actionBudget draws per-session action counts scaled by activity
// level, plus a DM and scroll allowance common to all levels.
func (p *Planner) actionBudget(level string) map[string]int {
	lo, hi := ActionRange(level)
	likes := lo + p.rng.Intn(hi-lo+1)
	return map[string]int{
		"likes":   likes,
		"follows": max(1, likes/3) + p.rng.Intn(3),
		"saves":   p.rng.Intn(max(2, likes/5)),
		"dms":     p.rng.Intn(3),
		"scrolls": 10 + p.rng.Intn(41),
	}
}

// BatchStatus is a batch's aggregate progress.
type BatchStatus struct {
	Batch    Batch
	Sessions map[string]int
}

// Status reports a batch's lifecycle state and per-status session
// counts.
func (p *Planner) Status(ctx context.Context, batchID int64) (*BatchStatus, error) {
	batch, err := p.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	counts, err := p.store.SessionCounts(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return &BatchStatus{Batch: *batch, Sessions: counts}, nil
}

// batch lifecycle transitions
var transitions = map[string][]string{
	BatchPending: {BatchRunning, BatchCancelled},
	BatchRunning: {BatchPaused, BatchCompleted, BatchCancelled},
	BatchPaused:  {BatchRunning, BatchCancelled},
}

// Transition moves a batch to the requested status, rejecting moves the
// lifecycle does not allow.
func (p *Planner) Transition(ctx context.Context, batchID int64, to string) error {
	batch, err := p.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	for _, allowed := range transitions[batch.Status] {
		if allowed == to {
			return p.store.UpdateBatchStatus(ctx, batchID, to)
		}
	}
	return eris.Errorf("warmup: batch %d cannot move from %s to %s", batchID, batch.Status, to)
}
