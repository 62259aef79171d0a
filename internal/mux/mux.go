// Package mux races streaming completions across several providers and
// forwards a single winning stream to the caller. A request fans out into
// one driver goroutine per candidate; a coordinator elects the winner on
// the first useful token, cancels the losers, and keeps per-branch spend
// accounting so a race never exceeds its budget.
package mux

import (
	"context"
	"log/slog"
	"time"

	"github.com/ghostkellz/omen/internal/metrics"
	"github.com/ghostkellz/omen/pkg/errors"
	"github.com/ghostkellz/omen/pkg/provider"
	"github.com/ghostkellz/omen/pkg/types"
)

// DefaultSpeculateDelay is how long speculate_k holds back cloud branches
// after the local branch starts.
const DefaultSpeculateDelay = 150 * time.Millisecond

// eventBuffer is the capacity of the per-request driver event channel and
// of the consumer-facing chunk channel.
const eventBuffer = 100

// Options control one multiplexed request. Zero fields fall back to the
// directive defaults.
type Options struct {
	// Strategy is one of the types.Strategy* values. Unknown values run
	// as race; parallel_merge runs race semantics under its own label.
	Strategy string
	// K is how many branches race. Clamped to the candidate count.
	K int
	// BudgetUSD caps the estimated spend across all branches.
	BudgetUSD float64
	// MaxLatency bounds the time to the first committed token.
	MaxLatency time.Duration
	// MinUsefulTokens is the trimmed length at which a chunk can win.
	MinUsefulTokens int
	// SpeculateDelay is the cloud hold-back under speculate_k.
	SpeculateDelay time.Duration
}

// OptionsFromDirective maps a normalized routing directive onto mux
// options.
func OptionsFromDirective(d types.RoutingDirective) Options {
	return Options{
		Strategy:        d.Strategy,
		K:               d.K,
		BudgetUSD:       d.BudgetUSD,
		MaxLatency:      time.Duration(d.MaxLatencyMS) * time.Millisecond,
		MinUsefulTokens: d.MinUsefulTokens,
		SpeculateDelay:  DefaultSpeculateDelay,
	}
}

func (o Options) withDefaults() Options {
	if o.Strategy == "" {
		o.Strategy = types.StrategyRace
	}
	if o.K <= 0 {
		o.K = types.DefaultSpeculateK
	}
	if o.BudgetUSD <= 0 {
		o.BudgetUSD = types.DefaultBudgetUSD
	}
	if o.MaxLatency <= 0 {
		o.MaxLatency = types.DefaultMaxLatencyMS * time.Millisecond
	}
	if o.MinUsefulTokens <= 0 {
		o.MinUsefulTokens = types.DefaultMinUsefulTokens
	}
	if o.SpeculateDelay <= 0 {
		o.SpeculateDelay = DefaultSpeculateDelay
	}
	return o
}

// Multiplexer runs streaming requests across provider branches.
type Multiplexer struct {
	collector *metrics.Collector
	logger    *slog.Logger
}

// New creates a multiplexer. Nil collector and logger fall back to
// process defaults.
func New(collector *metrics.Collector, logger *slog.Logger) *Multiplexer {
	if collector == nil {
		collector = metrics.NewCollector()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Multiplexer{collector: collector, logger: logger}
}

// Stream starts the strategy's branches over the candidate providers and
// returns the multiplexed stream. Candidates come pre-ordered from the
// router; single uses the first, race and speculate_k fan out over the
// top k. The returned stream must be closed by the caller.
func (m *Multiplexer) Stream(ctx context.Context, req *types.ChatRequest, candidates []provider.Provider, opts Options) (*Stream, error) {
	if len(candidates) == 0 {
		return nil, errors.NewProviderUnavailableError(req.Model, "no providers available to multiplex")
	}
	opts = opts.withDefaults()
	if opts.K > len(candidates) {
		opts.K = len(candidates)
	}

	var (
		mode    electionMode
		initial []provider.Provider
		delayed []provider.Provider
	)

	switch opts.Strategy {
	case types.StrategySingle:
		mode = electImmediate
		initial = candidates[:1]
	case types.StrategySpeculateK:
		local, clouds := splitLocal(candidates, opts.K)
		if local == nil {
			// No local branch to speculate from; race the top k.
			mode = electUseful
			initial = candidates[:opts.K]
			break
		}
		mode = electFirstToken
		initial = []provider.Provider{local}
		delayed = clouds
	default:
		// race, parallel_merge, and anything unknown run race semantics.
		mode = electUseful
		initial = candidates[:opts.K]
	}

	root, cancel := context.WithCancel(ctx)
	out := make(chan outItem, eventBuffer)
	s := &Stream{out: out, cancel: cancel}

	c := &coordinator{
		mux:      m,
		stream:   s,
		out:      out,
		events:   make(chan event, eventBuffer),
		opts:     opts,
		mode:     mode,
		model:    req.Model,
		req:      req,
		branches: make(map[string]*branchState),
		start:    time.Now(),
	}

	m.collector.RecordStreamStart()
	for _, p := range initial {
		c.launch(root, p)
	}
	if mode == electImmediate {
		c.commit(initial[0].ID())
	}

	m.logger.Debug("multiplex start",
		"strategy", opts.Strategy,
		"k", opts.K,
		"providers", providerIDs(initial),
		"delayed_providers", providerIDs(delayed),
		"budget_usd", opts.BudgetUSD,
		"max_latency_ms", opts.MaxLatency.Milliseconds(),
	)

	go c.run(root, delayed)
	return s, nil
}

// splitLocal picks the first local candidate and up to k-1 cloud
// candidates for speculation. Returns a nil local when there is none.
func splitLocal(candidates []provider.Provider, k int) (provider.Provider, []provider.Provider) {
	var local provider.Provider
	var clouds []provider.Provider
	for _, p := range candidates {
		if p.Type() == provider.TypeLocal {
			if local == nil {
				local = p
			}
			continue
		}
		if len(clouds) < k-1 {
			clouds = append(clouds, p)
		}
	}
	return local, clouds
}

func providerIDs(providers []provider.Provider) []string {
	out := make([]string, len(providers))
	for i, p := range providers {
		out[i] = p.ID()
	}
	return out
}
