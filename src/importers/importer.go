package importers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/username/cryptofolio/src/config"
	"github.com/username/cryptofolio/src/logger"
	"github.com/username/cryptofolio/src/models"
)

// ErrSourceUnavailable signals that a chain source could not be reached or
// refused the request.
var ErrSourceUnavailable = errors.New("source unavailable")

// Request names the wallet sources to pull for one analysis.
type Request struct {
	BTCAddresses []string
	EVMAddresses []string
	Chains       []string
}

func (r Request) Empty() bool {
	return len(r.BTCAddresses) == 0 && (len(r.EVMAddresses) == 0 || len(r.Chains) == 0)
}

// Result carries everything the chain fan-out produced. A failed source adds
// a warning instead of failing the whole import, so one unreachable explorer
// does not discard the rest of the history.
type Result struct {
	Transactions []models.Transaction
	Warnings     []string

	// Attempted and Failed count the queried sources, letting the caller
	// distinguish "nothing to import" from "everything failed".
	Attempted int
	Failed    int
}

// AllFailed reports whether every queried source errored.
func (r Result) AllFailed() bool {
	return r.Attempted > 0 && r.Failed == r.Attempted
}

// Service coordinates the per-chain importers.
type Service struct {
	btc *BTCImporter
	evm *EVMImporter
}

func NewService(cfg *config.AppConfig) *Service {
	return &Service{
		btc: NewBTCImporter(cfg.BlockstreamAPIBaseURL, cfg.ChainRequestTimeout),
		evm: NewEVMImporter(cfg.EtherscanAPIKey, cfg.ChainRequestTimeout),
	}
}

// Import fans out one goroutine per source (the BTC importer plus one per
// EVM chain) and merges their output, deduplicating by transaction id.
func (s *Service) Import(ctx context.Context, req Request) (Result, error) {
	type sourceOutput struct {
		name string
		txs  []models.Transaction
		err  error
	}

	var sources []func(context.Context) sourceOutput
	if len(req.BTCAddresses) > 0 {
		sources = append(sources, func(ctx context.Context) sourceOutput {
			txs, err := s.btc.Import(ctx, req.BTCAddresses)
			return sourceOutput{name: "bitcoin", txs: txs, err: err}
		})
	}
	if len(req.EVMAddresses) > 0 {
		for _, chainID := range req.Chains {
			chainID := chainID
			sources = append(sources, func(ctx context.Context) sourceOutput {
				txs, err := s.evm.ImportChain(ctx, chainID, req.EVMAddresses)
				return sourceOutput{name: chainID, txs: txs, err: err}
			})
		}
	}
	if len(sources) == 0 {
		return Result{}, nil
	}

	outputs := make([]sourceOutput, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, fetch := range sources {
		i, fetch := i, fetch
		g.Go(func() error {
			start := time.Now()
			outputs[i] = fetch(gctx)
			if outputs[i].err == nil {
				logger.L.Info("Chain source imported",
					"source", outputs[i].name,
					"transactions", len(outputs[i].txs),
					"duration", time.Since(start).String())
			}
			// Source failures are isolated; only context cancellation
			// aborts the group.
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	result := Result{Attempted: len(outputs)}
	seen := make(map[string]bool)
	for _, out := range outputs {
		if out.err != nil {
			result.Failed++
			logger.L.Warn("Chain source failed", "source", out.name, "error", out.err)
			result.Warnings = append(result.Warnings, fmt.Sprintf("source %s unavailable: %v", out.name, out.err))
			continue
		}
		for _, tx := range out.txs {
			if seen[tx.ID] {
				continue
			}
			seen[tx.ID] = true
			result.Transactions = append(result.Transactions, tx)
		}
	}
	sort.SliceStable(result.Transactions, func(i, j int) bool {
		return result.Transactions[i].Timestamp.Before(result.Transactions[j].Timestamp)
	})
	return result, nil
}
