package mux

import (
	"context"
	"strings"
	"time"

	"github.com/ghostkellz/omen/internal/observability"
	"github.com/ghostkellz/omen/pkg/errors"
	"github.com/ghostkellz/omen/pkg/provider"
	"github.com/ghostkellz/omen/pkg/types"
)

// electionMode decides how a branch becomes the winner.
type electionMode int

const (
	// electImmediate commits the only branch before it emits anything.
	electImmediate electionMode = iota
	// electUseful commits the first branch to emit a useful token.
	electUseful
	// electFirstToken commits the first token outright and allows one
	// quality upgrade to a later branch.
	electFirstToken
)

// event kinds emitted by drivers.
type eventKind int

const (
	eventToken eventKind = iota
	eventDone
	eventError
)

type event struct {
	kind     eventKind
	provider string
	chunk    *types.StreamChunk
	text     string
	// latencyMs is time since branch start: per token for eventToken,
	// total for eventDone.
	latencyMs int64
	tokens    int
	costUSD   float64
	err       error
}

// branchState is the coordinator's view of one driver.
type branchState struct {
	id           string
	cancel       context.CancelFunc
	tokens       int
	costUSD      float64
	firstTokenMs int64
	sawToken     bool
	totalMs      int64
	done         bool
	cancelled    bool
	err          error
}

// coordinator owns all mutable race state. Only its goroutine touches
// branches; drivers communicate exclusively through the event channel.
type coordinator struct {
	mux    *Multiplexer
	stream *Stream
	out    chan outItem
	events chan event
	opts   Options
	mode   electionMode
	model  string
	req    *types.ChatRequest

	branches map[string]*branchState
	order    []string
	live     int

	winner       string
	upgraded     bool
	upgradedFrom string
	start        time.Time
}

// launch registers a branch and starts its driver.
func (c *coordinator) launch(root context.Context, p provider.Provider) {
	ctx, cancel := context.WithCancel(root)
	br := &branchState{id: p.ID(), cancel: cancel}
	c.branches[p.ID()] = br
	c.order = append(c.order, p.ID())
	c.live++
	c.mux.collector.RecordBranchLaunched(c.opts.Strategy, p.ID())
	go c.mux.drive(ctx, p, c.req, c.events)
}

// run is the coordinator loop. It consumes driver events until the
// winner finishes, a ceiling trips, or the client goes away.
func (c *coordinator) run(root context.Context, delayed []provider.Provider) {
	defer close(c.out)
	defer c.finalize(root)
	defer c.stream.cancel()

	var deadlineCh <-chan time.Time
	if c.mode != electImmediate {
		deadline := time.NewTimer(c.opts.MaxLatency)
		defer deadline.Stop()
		deadlineCh = deadline.C
	}

	var delayCh <-chan time.Time
	if len(delayed) > 0 {
		delay := time.NewTimer(c.opts.SpeculateDelay)
		defer delay.Stop()
		delayCh = delay.C
	}

	for {
		select {
		case ev := <-c.events:
			if c.handle(root, ev) {
				return
			}
			if c.live == 0 && delayCh == nil {
				c.finishDrained(root)
				return
			}

		case <-delayCh:
			// Cloud branches join as upgrade candidates even when the
			// local branch has already committed.
			delayCh = nil
			for _, p := range delayed {
				c.launch(root, p)
			}

		case <-deadlineCh:
			if c.winner != "" {
				// Committed; the deadline only bounds the search.
				deadlineCh = nil
				continue
			}
			c.mux.logger.Warn("multiplex deadline exceeded",
				"strategy", c.opts.Strategy,
				"max_latency_ms", c.opts.MaxLatency.Milliseconds(),
			)
			c.cancelRunning("deadline", "")
			c.emitErr(root, errors.NewTimeoutError("", c.model, "no provider produced useful output within max_latency_ms"))
			return

		case <-root.Done():
			c.cancelRunning("client", "")
			return
		}
	}
}

// handle applies one driver event. Returns true when the race is over.
func (c *coordinator) handle(root context.Context, ev event) bool {
	br := c.branches[ev.provider]
	if br == nil {
		return false
	}

	switch ev.kind {
	case eventToken:
		br.tokens++
		br.costUSD += ev.costUSD
		if !br.sawToken {
			br.sawToken = true
			br.firstTokenMs = ev.latencyMs
		}
		c.handleToken(root, br, ev)

	case eventDone:
		br.done = true
		br.tokens = ev.tokens
		br.costUSD = ev.costUSD
		br.totalMs = ev.latencyMs
		c.live--
		if ev.provider == c.winner {
			c.finishWon()
			return true
		}

	case eventError:
		br.err = ev.err
		c.live--
		if ev.provider == c.winner {
			c.mux.logger.Warn("winning branch failed mid-stream",
				"api_provider", ev.provider,
				"strategy", c.opts.Strategy,
				"error", ev.err,
			)
			c.emitErr(root, asProviderErr(ev.provider, c.model, ev.err))
			return true
		}
	}

	if c.overBudget() {
		return c.stopOnBudget(root)
	}
	return false
}

// handleToken runs the election and forwards winner chunks.
func (c *coordinator) handleToken(root context.Context, br *branchState, ev event) {
	switch {
	case c.winner == "":
		elected := false
		switch c.mode {
		case electUseful:
			elected = usefulToken(ev.text, c.opts.MinUsefulTokens)
		case electFirstToken:
			elected = true
		}
		if !elected {
			return
		}
		c.commit(br.id)
		c.forward(root, ev.chunk)

	case br.id == c.winner:
		c.forward(root, ev.chunk)

	case c.mode == electFirstToken && !c.upgraded && shouldUpgrade(ev.text):
		c.upgrade(br.id)
		c.forward(root, ev.chunk)
	}
}

// commit fixes the winner. Race losers are cancelled here; under
// speculate_k they keep running as upgrade candidates.
func (c *coordinator) commit(providerID string) {
	c.winner = providerID
	c.stream.setWinner(providerID)
	c.mux.collector.RecordRaceWin(c.opts.Strategy, providerID)
	if c.mode == electUseful {
		c.cancelRunning("lost", providerID)
	}
	if c.mode != electImmediate {
		c.mux.logger.Info("branch committed",
			"api_provider", providerID,
			"strategy", c.opts.Strategy,
			"elapsed_ms", time.Since(c.start).Milliseconds(),
		)
	}
}

// upgrade switches the committed winner once and ends the upgrade
// window. The previous winner becomes a loser.
func (c *coordinator) upgrade(providerID string) {
	from := c.winner
	c.winner = providerID
	c.upgraded = true
	c.upgradedFrom = from
	c.stream.setUpgrade(from, providerID)
	c.mux.collector.RecordUpgrade(from, providerID)
	c.cancelRunning("lost", providerID)
	c.mux.logger.Info("speculative upgrade",
		"from_provider", from,
		"to_provider", providerID,
		"elapsed_ms", time.Since(c.start).Milliseconds(),
	)
}

// finishWon ends a race whose winner streamed to completion.
func (c *coordinator) finishWon() {
	c.cancelRunning("lost", c.winner)
	c.mux.logger.Debug("multiplex finished",
		"api_provider", c.winner,
		"strategy", c.opts.Strategy,
		"cost_usd", c.totalCost(),
		"elapsed_ms", time.Since(c.start).Milliseconds(),
	)
}

// finishDrained ends a race in which every branch stopped before a
// winner was committed. Branch failures surface as an error; branches
// that finished cleanly without useful output close the stream empty.
func (c *coordinator) finishDrained(root context.Context) {
	var lastErr error
	var lastProvider string
	for _, id := range c.order {
		if br := c.branches[id]; br.err != nil {
			lastErr = br.err
			lastProvider = br.id
		}
	}
	if lastErr != nil {
		c.emitErr(root, asProviderErr(lastProvider, c.model, lastErr))
	}
}

// stopOnBudget handles a tripped budget ceiling. During the search it is
// an error; after commit the stream ends early with what was produced.
func (c *coordinator) stopOnBudget(root context.Context) bool {
	c.mux.logger.Warn("multiplex budget exceeded",
		"strategy", c.opts.Strategy,
		"budget_usd", c.opts.BudgetUSD,
		"spent_usd", c.totalCost(),
	)
	c.cancelRunning("budget", "")
	if c.winner == "" {
		c.emitErr(root, errors.NewBudgetExceededError(c.model, "multiplex budget exhausted before any provider produced output"))
	}
	return true
}

// cancelRunning cancels every branch still in flight except keep.
func (c *coordinator) cancelRunning(reason, keep string) {
	for _, id := range c.order {
		br := c.branches[id]
		if br.id == keep || br.done || br.cancelled || br.err != nil {
			continue
		}
		br.cancel()
		br.cancelled = true
		c.mux.collector.RecordBranchCancel(c.opts.Strategy, reason)
	}
}

// forward hands a winner chunk to the consumer in production order.
func (c *coordinator) forward(root context.Context, chunk *types.StreamChunk) {
	select {
	case c.out <- outItem{chunk: chunk}:
	case <-root.Done():
	}
}

// emitErr surfaces a terminal error to the consumer. The send blocks
// like forward does so a slow consumer still sees the failure instead
// of a clean EOF.
func (c *coordinator) emitErr(root context.Context, err error) {
	select {
	case c.out <- outItem{err: err}:
	case <-root.Done():
	}
}

func (c *coordinator) totalCost() float64 {
	var total float64
	for _, br := range c.branches {
		total += br.costUSD
	}
	return total
}

func (c *coordinator) overBudget() bool {
	return c.totalCost() > c.opts.BudgetUSD
}

// finalize snapshots usage, records branch spend, and closes out the
// stream's metrics and span.
func (c *coordinator) finalize(root context.Context) {
	usage := Usage{
		Strategy:     c.opts.Strategy,
		Winner:       c.winner,
		Upgraded:     c.upgraded,
		UpgradedFrom: c.upgradedFrom,
		TotalCostUSD: c.totalCost(),
		ElapsedMs:    time.Since(c.start).Milliseconds(),
		Branches:     make([]BranchResult, 0, len(c.order)),
	}
	for _, id := range c.order {
		br := c.branches[id]
		outcome := "loser"
		if br.id == c.winner {
			outcome = "winner"
		}
		c.mux.collector.RecordBranchSpend(c.opts.Strategy, br.id, outcome, br.costUSD)

		result := BranchResult{
			Provider:     br.id,
			Tokens:       br.tokens,
			CostUSD:      br.costUSD,
			FirstTokenMs: br.firstTokenMs,
			TotalMs:      br.totalMs,
			Completed:    br.done,
			Cancelled:    br.cancelled,
		}
		if br.err != nil {
			result.Error = br.err.Error()
		}
		usage.Branches = append(usage.Branches, result)
	}

	c.stream.setUsage(usage)
	observability.RecordMuxOutcome(observability.SpanFromContext(root), c.opts.Strategy, c.winner, c.upgraded, usage.TotalCostUSD)
	c.mux.collector.RecordStreamEnd()
}

// usefulToken reports whether a chunk's text is substantial enough to
// win a race: trimmed non-empty and either long enough, multi-line, or
// fenced code.
func usefulToken(text string, minLen int) bool {
	content := strings.TrimSpace(text)
	if content == "" {
		return false
	}
	return len(content) >= minLen ||
		strings.Contains(content, "```") ||
		strings.ContainsRune(content, '\n')
}

// shouldUpgrade reports whether a chunk signals higher-value output
// worth switching branches for.
func shouldUpgrade(text string) bool {
	return strings.Contains(text, "```") ||
		strings.Contains(text, "function_call") ||
		strings.Contains(text, "tool_call")
}

// asProviderErr passes gateway errors through and wraps raw driver
// errors as upstream provider failures.
func asProviderErr(providerID, model string, err error) error {
	if _, ok := errors.AsGatewayError(err); ok {
		return err
	}
	return errors.NewProviderError(providerID, model, err.Error())
}
