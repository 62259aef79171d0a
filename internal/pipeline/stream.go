package pipeline

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/ghostkellz/omen/internal/metrics"
	"github.com/ghostkellz/omen/internal/mux"
	"github.com/ghostkellz/omen/internal/observability"
	"github.com/ghostkellz/omen/internal/tokenizer"
	"github.com/ghostkellz/omen/pkg/errors"
	"github.com/ghostkellz/omen/pkg/provider"
	"github.com/ghostkellz/omen/pkg/types"
)

// Stream runs a streaming chat completion through the multiplexer. The
// returned stream carries the winning branch's chunks; billing and
// routing feedback settle exactly once when the stream ends, so the
// caller only needs to drain and close it.
func (p *Pipeline) Stream(ctx context.Context, req *types.ChatRequest) (*Stream, error) {
	start := time.Now()
	rc := newReqContext(ctx)
	intentLabel := p.classifier.Classify(req)
	d := p.directive(req)
	d.Strategy = p.streamStrategy(req, d)

	estimated := tokenizer.EstimateRequestTokens(req)
	if p.admission != nil {
		if err := p.admission.Check(ctx, rc.tenant, rc.service, estimated); err != nil {
			return nil, err
		}
	}

	candidates, decision, err := p.resolve(rc, req, intentLabel, d)
	if err != nil {
		return nil, err
	}

	opts := mux.OptionsFromDirective(d)
	if p.cfg.SpeculateDelay > 0 {
		opts.SpeculateDelay = p.cfg.SpeculateDelay
	}

	launched := launchedIDs(candidates, opts)
	for _, id := range launched {
		p.router.BeginRequest(id)
	}

	inner, err := p.mux.Stream(ctx, req, candidates, opts)
	if err != nil {
		for _, id := range launched {
			p.router.EndRequest(id)
		}
		return nil, err
	}

	p.logger.Debug("stream start",
		"request_id", rc.requestID,
		"intent", intentLabel,
		"strategy", d.Strategy,
		"source", decision.Source,
		"providers", launched)

	return &Stream{
		p:        p,
		rc:       rc,
		req:      req,
		inner:    inner,
		intent:   intentLabel,
		strategy: d.Strategy,
		launched: launched,
		start:    start,
	}, nil
}

// launchedIDs lists the providers the multiplexer will drive for the
// given options. Mirrors the mux fan-out: one for single, top k
// otherwise (speculate_k may hold some back but still drives them).
func launchedIDs(candidates []provider.Provider, opts mux.Options) []string {
	n := opts.K
	if opts.Strategy == types.StrategySingle || n <= 0 {
		n = 1
	}
	if n > len(candidates) {
		n = len(candidates)
	}
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = candidates[i].ID()
	}
	return ids
}

// Stream wraps a multiplexed stream with per-request accounting. Recv
// and Close are safe for the usual single-consumer use; settlement
// happens once regardless of how the stream terminates.
type Stream struct {
	p        *Pipeline
	rc       reqContext
	req      *types.ChatRequest
	inner    *mux.Stream
	intent   string
	strategy string
	launched []string
	start    time.Time

	firstToken *time.Time
	streamErr  error
	settleOnce sync.Once
}

// Recv returns the next chunk from the winning branch. io.EOF marks a
// clean end of stream.
func (s *Stream) Recv() (*types.StreamChunk, error) {
	chunk, err := s.inner.Recv()
	if err == nil {
		if s.firstToken == nil && chunk.DeltaContent() != "" {
			now := time.Now()
			s.firstToken = &now
		}
		return chunk, nil
	}
	if err == io.EOF {
		s.settle(nil)
	} else {
		s.settle(err)
	}
	return nil, err
}

// Close cancels any branches still running and settles accounting for
// whatever was consumed so far.
func (s *Stream) Close() error {
	err := s.inner.Close()
	// The coordinator seals branch accounting before it closes the
	// channel, so drain to EOF before settling or the router and
	// ledger see a partial snapshot.
	for {
		if _, rerr := s.inner.Recv(); rerr == io.EOF {
			break
		}
	}
	s.settle(nil)
	return err
}

// Winner reports the provider whose stream is being forwarded.
func (s *Stream) Winner() string { return s.inner.Winner() }

// Upgraded reports whether a speculative upgrade replaced the local
// branch mid-stream.
func (s *Stream) Upgraded() bool { return s.inner.Upgraded() }

// Usage returns the multiplexer's spend accounting. Only meaningful
// after the stream has finished.
func (s *Stream) Usage() mux.Usage { return s.inner.Usage() }

// settle books the multiplexer outcome into the router, the ledger, the
// session store, and the observability sinks. Runs at most once.
func (s *Stream) settle(streamErr error) {
	s.settleOnce.Do(func() {
		s.streamErr = streamErr
		s.finalize()
	})
}

func (s *Stream) finalize() {
	p := s.p
	for _, id := range s.launched {
		p.router.EndRequest(id)
	}

	usage := s.inner.Usage()
	end := time.Now()
	ctx := context.Background()

	// Every branch feeds the router's moving averages. Losers count as
	// successes when they were merely cancelled; errored branches drag
	// the provider's reliability down.
	var winnerTokens int
	var winnerCost float64
	for _, br := range usage.Branches {
		success := br.Error == ""
		totalMs := br.TotalMs
		if totalMs <= 0 {
			totalMs = usage.ElapsedMs
		}
		p.router.Record(ctx, br.Provider, totalMs, success, br.CostUSD, br.Tokens)
		if br.Provider == usage.Winner {
			winnerTokens = br.Tokens
			winnerCost = br.CostUSD
		}
	}

	inputTokens := tokenizer.EstimatePromptTokens(s.req.Model, s.req)
	success := s.streamErr == nil && usage.Winner != ""

	// Only the winning branch is billed. Losing branch spend shows up
	// in SpentUSD and the spend log, never on the tenant's ledger.
	var billed float64
	if success {
		if p.admission != nil {
			billed = p.admission.Record(ctx, s.rc.tenant, inputTokens, winnerTokens, winnerCost)
		}
		p.touchSession(s.rc, usage.Winner, billed)
		if b := p.breakers.For(usage.Winner); b != nil {
			b.RecordSuccess()
		}
	} else if usage.Winner != "" {
		if b := p.breakers.For(usage.Winner); b != nil {
			b.RecordFailure()
		}
	}

	status := observability.RequestStatusSuccess
	statusCode := 200
	var errClass string
	if !success {
		status = observability.RequestStatusFailure
		statusCode = 502
		if gerr, ok := errors.AsGatewayError(s.streamErr); ok {
			statusCode = gerr.HTTPStatusCode()
			errClass = gerr.Type
		} else if s.streamErr != nil {
			errClass = s.streamErr.Error()
		}
	}

	var ttft time.Duration
	if s.firstToken != nil {
		ttft = s.firstToken.Sub(s.start)
	}

	p.account(s.rc, &observability.UsageEvent{
		RequestID:        s.rc.requestID,
		CallType:         observability.CallTypeChatCompletion,
		Status:           status,
		RequestedModel:   s.req.Model,
		Model:            s.req.Model,
		Provider:         usage.Winner,
		Strategy:         usage.Strategy,
		Upgraded:         usage.Upgraded,
		UserID:           s.rc.tenant,
		Service:          s.rc.service,
		PromptTokens:     inputTokens,
		CompletionTokens: winnerTokens,
		TotalTokens:      inputTokens + winnerTokens,
		CostUSD:          billed,
		SpentUSD:         usage.TotalCostUSD,
		StartTime:        s.start,
		EndTime:          end,
		FirstTokenTime:   s.firstToken,
		Error:            errClass,
	}, &metrics.RequestMetrics{
		Labels: metrics.Labels{
			UserID:         s.rc.tenant,
			Service:        s.rc.service,
			RequestedModel: s.req.Model,
			Model:          s.req.Model,
			APIProvider:    usage.Winner,
			Strategy:       usage.Strategy,
			Intent:         s.intent,
			StatusCode:     statusCode,
			ExceptionClass: errClass,
		},
		StartTime:    s.start,
		EndTime:      end,
		TTFT:         ttft,
		InputTokens:  inputTokens,
		OutputTokens: winnerTokens,
		TotalTokens:  inputTokens + winnerTokens,
		Cost:         billed,
		Success:      success,
		Streaming:    true,
	})
}
