package pipeline

import (
	"context"
	"time"

	"github.com/ghostkellz/omen/internal/metrics"
	"github.com/ghostkellz/omen/internal/observability"
	"github.com/ghostkellz/omen/internal/tokenizer"
	"github.com/ghostkellz/omen/pkg/errors"
	"github.com/ghostkellz/omen/pkg/types"
)

// Complete runs a non-streaming chat completion: cache lookup, admission,
// candidate resolution, a single provider call against the top candidate,
// then billing, metrics, and cache write-back.
func (p *Pipeline) Complete(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	start := time.Now()
	rc := newReqContext(ctx)
	intentLabel := p.classifier.Classify(req)
	d := p.directive(req)

	if tenant := rc.cacheTenant(); tenant != "" && p.responses.Enabled() {
		if hit := p.responses.Get(ctx, tenant, req); hit != nil {
			resp, err := hit.ChatResponse()
			if err == nil {
				p.collector.RecordCacheSavedCost("response", req.Model, hit.CostUSD)
				p.recordCacheHit(rc, req, resp, hit.Provider, start)
				return resp, nil
			}
		}
	}

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
	top := candidates[0]
	p.logger.Debug("candidates resolved",
		"request_id", rc.requestID,
		"intent", intentLabel,
		"source", decision.Source,
		"providers", decision.Providers)

	p.router.BeginRequest(top.ID())
	defer p.router.EndRequest(top.ID())
	p.collector.RecordRouterSelection(top.ID(), intentLabel)

	cctx, cancel := context.WithTimeout(ctx, deadline(d))
	defer cancel()

	resp, err := top.Complete(cctx, req)
	latency := time.Since(start)

	if err != nil {
		p.breakers.For(top.ID()).RecordFailure()
		p.router.Record(ctx, top.ID(), latency.Milliseconds(), false, 0, 0)
		gerr := toGatewayError(err, top.ID(), req.Model, cctx)
		p.accountFailure(rc, req, top.ID(), intentLabel, gerr, start)
		return nil, gerr
	}

	p.breakers.For(top.ID()).RecordSuccess()

	inputTokens, outputTokens := responseTokens(req, resp)
	cost := p.completionCost(top.ID(), inputTokens+outputTokens)
	p.router.Record(ctx, top.ID(), latency.Milliseconds(), true, cost, inputTokens+outputTokens)

	var billed float64
	if p.admission != nil {
		billed = p.admission.Record(ctx, rc.tenant, inputTokens, outputTokens, cost)
	}
	if tenant := rc.cacheTenant(); tenant != "" && p.responses.Enabled() {
		p.responses.Put(ctx, tenant, req, resp, top.ID(), cost)
	}
	p.touchSession(rc, top.ID(), billed)

	end := time.Now()
	p.account(rc, &observability.UsageEvent{
		RequestID:        rc.requestID,
		CallType:         observability.CallTypeChatCompletion,
		Status:           observability.RequestStatusSuccess,
		RequestedModel:   req.Model,
		Model:            resp.Model,
		Provider:         top.ID(),
		UserID:           rc.tenant,
		Service:          rc.service,
		PromptTokens:     inputTokens,
		CompletionTokens: outputTokens,
		TotalTokens:      inputTokens + outputTokens,
		CostUSD:          billed,
		SpentUSD:         cost,
		StartTime:        start,
		EndTime:          end,
	}, &metrics.RequestMetrics{
		Labels: metrics.Labels{
			UserID:         rc.tenant,
			Service:        rc.service,
			RequestedModel: req.Model,
			Model:          resp.Model,
			APIProvider:    top.ID(),
			Intent:         intentLabel,
			StatusCode:     200,
		},
		StartTime:    start,
		EndTime:      end,
		UpstreamTime: latency,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
		Cost:         billed,
		Success:      true,
	})

	return resp, nil
}

// recordCacheHit accounts a response served from cache. No provider is
// called and nothing is ledgered.
func (p *Pipeline) recordCacheHit(rc reqContext, req *types.ChatRequest, resp *types.ChatResponse, providerID string, start time.Time) {
	end := time.Now()
	inputTokens, outputTokens := responseTokens(req, resp)
	p.account(rc, &observability.UsageEvent{
		RequestID:        rc.requestID,
		CallType:         observability.CallTypeChatCompletion,
		Status:           observability.RequestStatusSuccess,
		RequestedModel:   req.Model,
		Model:            resp.Model,
		Provider:         providerID,
		UserID:           rc.tenant,
		PromptTokens:     inputTokens,
		CompletionTokens: outputTokens,
		TotalTokens:      inputTokens + outputTokens,
		CacheHit:         true,
		StartTime:        start,
		EndTime:          end,
	}, &metrics.RequestMetrics{
		Labels: metrics.Labels{
			UserID:         rc.tenant,
			RequestedModel: req.Model,
			Model:          resp.Model,
			APIProvider:    providerID,
			StatusCode:     200,
		},
		StartTime: start,
		EndTime:   end,
		Success:   true,
		CacheHit:  true,
	})
}

// accountFailure books a failed provider call into the observability
// sinks. The ledger is never charged for failures.
func (p *Pipeline) accountFailure(rc reqContext, req *types.ChatRequest, providerID, intentLabel string, gerr *errors.GatewayError, start time.Time) {
	end := time.Now()
	p.account(rc, &observability.UsageEvent{
		RequestID:      rc.requestID,
		CallType:       observability.CallTypeChatCompletion,
		Status:         observability.RequestStatusFailure,
		RequestedModel: req.Model,
		Provider:       providerID,
		UserID:         rc.tenant,
		Service:        rc.service,
		StartTime:      start,
		EndTime:        end,
		Error:          gerr.Type,
	}, &metrics.RequestMetrics{
		Labels: metrics.Labels{
			UserID:         rc.tenant,
			Service:        rc.service,
			RequestedModel: req.Model,
			APIProvider:    providerID,
			Intent:         intentLabel,
			StatusCode:     gerr.HTTPStatusCode(),
			ExceptionClass: gerr.Type,
		},
		StartTime: start,
		EndTime:   end,
		Success:   false,
	})
}

// Embed passes an embedding request through to the first healthy
// provider that serves the model. Embeddings are never multiplexed.
func (p *Pipeline) Embed(ctx context.Context, req *types.EmbeddingRequest) (*types.EmbeddingResponse, error) {
	rc := newReqContext(ctx)

	if p.admission != nil {
		estimated := tokenizer.EstimateEmbeddingTokens(req.Model, req)
		if err := p.admission.Check(ctx, rc.tenant, rc.service, estimated); err != nil {
			return nil, err
		}
	}

	embedder, providerID, err := p.findEmbedder(ctx, req.Model)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := embedder.Embed(ctx, req)
	latency := time.Since(start)
	if err != nil {
		p.breakers.For(providerID).RecordFailure()
		p.router.Record(ctx, providerID, latency.Milliseconds(), false, 0, 0)
		return nil, toGatewayError(err, providerID, req.Model, ctx)
	}

	p.breakers.For(providerID).RecordSuccess()
	tokens := resp.Usage.TotalTokens
	cost := p.completionCost(providerID, tokens)
	p.router.Record(ctx, providerID, latency.Milliseconds(), true, cost, tokens)
	if p.admission != nil {
		p.admission.Record(ctx, rc.tenant, resp.Usage.PromptTokens, 0, cost)
	}
	return resp, nil
}

// findEmbedder locates a healthy provider serving the model that also
// implements the embedding surface.
func (p *Pipeline) findEmbedder(ctx context.Context, model string) (embedder, string, error) {
	for _, id := range p.registry.ProvidersForModel(ctx, model) {
		prov, ok := p.registry.Get(id)
		if !ok || !p.router.Healthy(ctx, id) {
			continue
		}
		if e, ok := prov.(embedder); ok {
			return e, id, nil
		}
	}
	return nil, "", errors.NewModelNotFoundError(model, "no healthy provider serves embeddings for this model")
}

type embedder interface {
	Embed(ctx context.Context, req *types.EmbeddingRequest) (*types.EmbeddingResponse, error)
}

// responseTokens extracts usage from the response, falling back to the
// tokenizer estimate when the provider omitted token counts.
func responseTokens(req *types.ChatRequest, resp *types.ChatResponse) (int, int) {
	if resp.Usage != nil && resp.Usage.TotalTokens > 0 {
		return resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	input := tokenizer.EstimatePromptTokens(req.Model, req)
	output := tokenizer.EstimateCompletionTokens(req.Model, resp, "")
	return input, output
}

// toGatewayError maps a provider failure onto the gateway taxonomy. A
// deadline expiry surfaces as a 504 regardless of the transport error.
func toGatewayError(err error, providerID, model string, cctx context.Context) *errors.GatewayError {
	if cctx.Err() == context.DeadlineExceeded {
		return errors.NewTimeoutError(providerID, model, "request deadline exceeded")
	}
	if gerr, ok := errors.AsGatewayError(err); ok {
		return gerr
	}
	return errors.Wrap(err, providerID, model)
}
