package consistency

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/fpwarden/api/schemas"
	"github.com/xkilldash9x/fpwarden/internal/profile"
)

const passingScore = 85

// LLMAssessor is the model-backed half of an audit. The orchestrator
// never fails an audit on assessor errors; they are downgraded into
// the persisted result instead.
type LLMAssessor interface {
	Assess(ctx context.Context, p schemas.Profile, findings *schemas.Findings, opts *schemas.ConsistencyOptions) (schemas.AssessorResult, error)
}

// Orchestrator runs a full audit of a namespace record: load,
// deterministic checks, LLM assessment, and write-back of the combined
// result under the record's consistency key.
type Orchestrator struct {
	store    *profile.Store
	assessor LLMAssessor
	model    string
	log      *zap.Logger

	group singleflight.Group
}

func NewOrchestrator(store *profile.Store, assessor LLMAssessor, model string, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		assessor: assessor,
		model:    model,
		log:      logger.Named("consistency"),
	}
}

// Audit checks one namespace record and persists the result into the
// record itself. Concurrent calls for the same path collapse into a
// single execution; distinct paths run independently.
func (o *Orchestrator) Audit(ctx context.Context, path string, opts *schemas.ConsistencyOptions) (*schemas.ConsistencyResult, error) {
	key := filepath.Clean(path)
	v, err, _ := o.group.Do(key, func() (any, error) {
		return o.audit(ctx, key, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*schemas.ConsistencyResult), nil
}

func (o *Orchestrator) audit(ctx context.Context, path string, opts *schemas.ConsistencyOptions) (*schemas.ConsistencyResult, error) {
	unlock := o.store.Lock(path)
	defer unlock()

	p, err := o.store.Load(path)
	if err != nil {
		return nil, err
	}

	merged := mergeOptions(opts, p.ConsistencyOptions())
	findings := Check(p, merged.IgnoreGeoCountry != nil && *merged.IgnoreGeoCountry)

	assessment, err := o.assessor.Assess(ctx, p, findings, merged)
	if err != nil {
		// The deterministic findings are still worth persisting; the
		// model failure becomes part of the record.
		o.log.Warn("LLM assessment failed, recording error verdict",
			zap.String("path", path), zap.Error(err))
		assessment = schemas.AssessorResult{
			"score":   0,
			"verdict": "ERROR",
			"issues":  []any{"llm_error: " + err.Error()},
		}
	}

	result := buildResult(findings, assessment, o.model)
	p.SetConsistency(result)
	if err := o.store.Save(path, p); err != nil {
		return nil, err
	}

	o.log.Info("Audit complete",
		zap.String("path", path),
		zap.Int("score", result.Score),
		zap.String("verdict", result.Verdict))
	return result, nil
}

// mergeOptions layers caller options over stored options over the
// default (ignore_geo_country=true).
func mergeOptions(call, stored *schemas.ConsistencyOptions) *schemas.ConsistencyOptions {
	def := true
	merged := &schemas.ConsistencyOptions{IgnoreGeoCountry: &def}
	if stored != nil && stored.IgnoreGeoCountry != nil {
		merged.IgnoreGeoCountry = stored.IgnoreGeoCountry
	}
	if call != nil && call.IgnoreGeoCountry != nil {
		merged.IgnoreGeoCountry = call.IgnoreGeoCountry
	}
	return merged
}

func buildResult(findings *schemas.Findings, assessment schemas.AssessorResult, model string) *schemas.ConsistencyResult {
	score := assessment.Score()
	verdict := assessment.Verdict()
	if verdict == "" {
		if score >= passingScore {
			verdict = "OK"
		} else {
			verdict = "SUSPICIOUS"
		}
	}
	return &schemas.ConsistencyResult{
		Score:   score,
		Verdict: verdict,
		Details: schemas.ConsistencyDetails{
			Deterministic: findings,
			LLM:           assessment,
		},
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
		Model:     model,
	}
}
