package mux

import (
	"context"
	"io"
	"time"

	"github.com/ghostkellz/omen/pkg/provider"
	"github.com/ghostkellz/omen/pkg/types"
)

// drive runs one provider branch: it opens the upstream stream and
// translates chunks into coordinator events. A cancelled branch exits
// silently; the coordinator does not wait for it.
func (m *Multiplexer) drive(ctx context.Context, p provider.Provider, req *types.ChatRequest, events chan<- event) {
	start := time.Now()
	providerID := p.ID()

	send := func(ev event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	stream, err := p.StreamComplete(ctx, req)
	if err != nil {
		send(event{kind: eventError, provider: providerID, err: err})
		return
	}
	defer func() { _ = stream.Close() }()

	var (
		tokens int
		cost   float64
	)
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			send(event{
				kind:      eventDone,
				provider:  providerID,
				tokens:    tokens,
				costUSD:   cost,
				latencyMs: time.Since(start).Milliseconds(),
			})
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			send(event{kind: eventError, provider: providerID, err: err})
			return
		}

		tokens++
		text := chunk.DeltaContent()
		c := chunkCost(providerID, text)
		cost += c
		if !send(event{
			kind:      eventToken,
			provider:  providerID,
			chunk:     chunk,
			text:      text,
			latencyMs: time.Since(start).Milliseconds(),
			costUSD:   c,
		}) {
			return
		}
	}
}
