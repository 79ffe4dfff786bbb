package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/username/cryptofolio/src/importers"
	"github.com/username/cryptofolio/src/jobs"
	"github.com/username/cryptofolio/src/ledger"
	"github.com/username/cryptofolio/src/logger"
	"github.com/username/cryptofolio/src/models"
	"github.com/username/cryptofolio/src/parsers"
	"github.com/username/cryptofolio/src/pricing"
	"github.com/username/cryptofolio/src/processors"
	"github.com/username/cryptofolio/src/store"
)

// ErrMalformedInput marks user-supplied data that failed validation or
// parsing; handlers map it to a 4xx response.
var ErrMalformedInput = errors.New("malformed input")

// Pipeline step ids, in execution order.
const (
	StepUpload    = "upload"
	StepNormalize = "normalize"
	StepCompute   = "compute"
	StepPricing   = "pricing"
	StepAggregate = "aggregate"
)

func pipelineSteps() []models.JobStep {
	return []models.JobStep{
		{ID: StepUpload, Label: "Reading input"},
		{ID: StepNormalize, Label: "Normalizing transactions"},
		{ID: StepCompute, Label: "Computing capital gains"},
		{ID: StepPricing, Label: "Resolving historical prices"},
		{ID: StepAggregate, Label: "Building dashboard data"},
	}
}

// AnalysisRequest is one pipeline run's input: an optional CSV export plus
// optional wallet addresses.
type AnalysisRequest struct {
	CSV     []byte
	Source  string // CSV dialect, currently "binance"
	Wallets importers.Request
}

func (r AnalysisRequest) Empty() bool {
	return len(r.CSV) == 0 && r.Wallets.Empty()
}

// AnalysisService owns the upload → normalize → compute → pricing →
// aggregate pipeline. One goroutine per job; the session is written once, at
// the very end, so a failed run leaves no partial state behind.
type AnalysisService struct {
	sessions          *store.SessionStore
	jobs              *jobs.Store
	chains            *importers.Service
	resolver          pricing.Resolver
	snapshotMaxPoints int
}

func NewAnalysisService(sessions *store.SessionStore, jobStore *jobs.Store, chains *importers.Service, resolver pricing.Resolver, snapshotMaxPoints int) *AnalysisService {
	return &AnalysisService{
		sessions:          sessions,
		jobs:              jobStore,
		chains:            chains,
		resolver:          resolver,
		snapshotMaxPoints: snapshotMaxPoints,
	}
}

// StartAnalysis validates the request, registers a job and launches the
// pipeline in the background. The returned job is immediately pollable.
func (s *AnalysisService) StartAnalysis(req AnalysisRequest) (models.Job, error) {
	if req.Empty() {
		return models.Job{}, fmt.Errorf("%w: no CSV file or wallet addresses provided", ErrMalformedInput)
	}
	job := s.jobs.Create(pipelineSteps())
	logger.L.Info("Analysis job started", "jobId", job.ID,
		"csvBytes", len(req.CSV),
		"btcAddresses", len(req.Wallets.BTCAddresses),
		"evmAddresses", len(req.Wallets.EVMAddresses),
		"chains", req.Wallets.Chains)
	go s.run(job.ID, req)
	return job, nil
}

func (s *AnalysisService) run(jobID string, req AnalysisRequest) {
	ctx := context.Background()

	fail := func(step string, err error) {
		logger.L.Error("Analysis job failed", "jobId", jobID, "step", step, "error", err)
		if storeErr := s.jobs.FailStep(jobID, step, err); storeErr != nil {
			logger.L.Warn("Could not record job failure", "jobId", jobID, "error", storeErr)
		}
	}

	// upload
	if err := s.jobs.StartStep(jobID, StepUpload); err != nil {
		logger.L.Warn("Job vanished before start", "jobId", jobID)
		return
	}
	if len(req.CSV) > 0 {
		s.jobs.AddMessage(jobID, fmt.Sprintf("Received CSV file (%d bytes)", len(req.CSV)))
	}
	if !req.Wallets.Empty() {
		s.jobs.AddMessage(jobID, fmt.Sprintf("Querying %d BTC and %d EVM address(es)",
			len(req.Wallets.BTCAddresses), len(req.Wallets.EVMAddresses)))
	}
	s.jobs.CompleteStep(jobID, StepUpload)

	// normalize
	s.jobs.StartStep(jobID, StepNormalize)
	var csvTxs []models.Transaction
	if len(req.CSV) > 0 {
		source := req.Source
		if source == "" {
			source = "binance"
		}
		parser, err := parsers.GetParser(source)
		if err != nil {
			fail(StepNormalize, fmt.Errorf("%w: %v", ErrMalformedInput, err))
			return
		}
		csvTxs, err = parser.Parse(bytes.NewReader(req.CSV))
		if err != nil {
			fail(StepNormalize, fmt.Errorf("%w: %v", ErrMalformedInput, err))
			return
		}
		s.jobs.AddMessage(jobID, fmt.Sprintf("Parsed %d transaction(s) from CSV", len(csvTxs)))
	}

	chainResult, err := s.chains.Import(ctx, req.Wallets)
	if err != nil {
		fail(StepNormalize, err)
		return
	}
	for _, warning := range chainResult.Warnings {
		s.jobs.AddMessage(jobID, "Warning: "+warning)
	}
	if len(csvTxs) == 0 && chainResult.AllFailed() {
		fail(StepNormalize, fmt.Errorf("%w: every chain source failed and no CSV was provided", importers.ErrSourceUnavailable))
		return
	}
	if len(chainResult.Transactions) > 0 {
		s.jobs.AddMessage(jobID, fmt.Sprintf("Imported %d transaction(s) from wallet addresses", len(chainResult.Transactions)))
	}

	canonical, err := ledger.Build(csvTxs, chainResult.Transactions)
	if err != nil {
		fail(StepNormalize, fmt.Errorf("%w: %v", ErrMalformedInput, err))
		return
	}
	if len(canonical) == 0 {
		fail(StepNormalize, fmt.Errorf("%w: no transactions found in the provided input", ErrMalformedInput))
		return
	}
	s.jobs.AddMessage(jobID, fmt.Sprintf("Ledger built with %d transaction(s)", len(canonical)))
	s.jobs.CompleteStep(jobID, StepNormalize)

	// compute
	s.jobs.StartStep(jobID, StepCompute)
	recorder := pricing.NewRecorder(s.resolver)
	engine := processors.NewEngine(recorder)
	engine.Process(ctx, canonical)
	gains := engine.RealizedGains()
	openLots := engine.OpenLots()
	s.jobs.AddMessage(jobID, fmt.Sprintf("Computed %d realized gain record(s)", len(gains)))
	s.jobs.CompleteStep(jobID, StepCompute)

	// pricing
	s.jobs.StartStep(jobID, StepPricing)
	asOf := time.Now().UTC()
	if len(canonical) > 0 {
		asOf = canonical[len(canonical)-1].Timestamp
	}
	aggregator := processors.NewAggregator(recorder)
	holdings := aggregator.BuildHoldings(ctx, openLots, asOf)
	if missing := recorder.MissingPrices(); len(missing) > 0 {
		s.jobs.AddMessage(jobID, fmt.Sprintf("%d price(s) could not be resolved; affected values use zero", len(missing)))
	}
	s.jobs.CompleteStep(jobID, StepPricing)

	// aggregate
	s.jobs.StartStep(jobID, StepAggregate)
	session := &models.SessionData{
		ID:            uuid.New().String(),
		CreatedAt:     time.Now().UTC(),
		Status:        models.SessionReady,
		Ledger:        canonical,
		OpenLots:      openLots,
		RealizedGains: gains,
		Holdings:      holdings,
		Snapshots:     aggregator.BuildSnapshots(ctx, canonical, s.snapshotMaxPoints),
	}
	session.Summary = aggregator.BuildSummary(ctx, canonical, gains, holdings)
	// collected last: summary and snapshots may surface further gaps
	session.MissingPrices = recorder.MissingPrices()

	if err := s.sessions.Save(session); err != nil {
		fail(StepAggregate, err)
		return
	}
	s.jobs.CompleteStep(jobID, StepAggregate)

	if err := s.jobs.Complete(jobID, session.ID); err != nil {
		logger.L.Warn("Job expired before completion could be recorded", "jobId", jobID)
		return
	}
	logger.L.Info("Analysis job completed", "jobId", jobID, "sessionId", session.ID)
}

// GetJob exposes the job store to the handlers.
func (s *AnalysisService) GetJob(id string) (models.Job, error) {
	return s.jobs.Get(id)
}

// GetSession loads a finished session.
func (s *AnalysisService) GetSession(id string) (*models.SessionData, error) {
	return s.sessions.Get(id)
}

// DeleteSession removes a session; deleting an unknown id is not an error.
func (s *AnalysisService) DeleteSession(id string) (bool, error) {
	return s.sessions.Delete(id)
}
