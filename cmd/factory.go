package cmd

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/fpwarden/internal/config"
	"github.com/xkilldash9x/fpwarden/internal/consistency"
	"github.com/xkilldash9x/fpwarden/internal/geocode"
	"github.com/xkilldash9x/fpwarden/internal/network"
	"github.com/xkilldash9x/fpwarden/internal/normalize"
	"github.com/xkilldash9x/fpwarden/internal/observability"
	"github.com/xkilldash9x/fpwarden/internal/profile"
)

// auditStack bundles the collaborators the audit/repair commands share.
type auditStack struct {
	cfg          *config.Config
	logger       *zap.Logger
	store        *profile.Store
	orchestrator *consistency.Orchestrator
	normalizer   *normalize.Normalizer
}

func newAuditStack() (*auditStack, error) {
	cfg := config.Get()
	logger := observability.GetLogger()
	store := profile.NewStore(logger)

	llmClientCfg := network.NewDefaultClientConfig()
	llmClientCfg.RequestTimeout = cfg.LLM.Timeout
	llmClientCfg.ForceHTTP2 = false // local endpoints speak plain HTTP/1.1
	llmClientCfg.Logger = logger
	assessor := consistency.NewAssessor(consistency.AssessorConfig{
		Endpoint:    cfg.LLM.Endpoint,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}, network.NewClient(llmClientCfg), logger)

	orchestrator := consistency.NewOrchestrator(store, assessor, cfg.LLM.Model, logger)

	geoClientCfg := network.NewDefaultClientConfig()
	geoClientCfg.RequestTimeout = cfg.Geocode.Timeout
	geoClientCfg.Logger = logger
	geocoder, err := geocode.NewClient(cfg.Geocode, network.NewClient(geoClientCfg), logger)
	if err != nil {
		return nil, err
	}

	return &auditStack{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		orchestrator: orchestrator,
		normalizer:   normalize.NewNormalizer(store, geocoder, logger),
	}, nil
}
