package mux

import (
	"io"
	"sync"

	"github.com/ghostkellz/omen/pkg/provider"
	"github.com/ghostkellz/omen/pkg/types"
)

// BranchResult is the final accounting for one branch of a multiplexed
// request.
type BranchResult struct {
	Provider     string  `json:"provider"`
	Tokens       int     `json:"tokens"`
	CostUSD      float64 `json:"cost_usd"`
	FirstTokenMs int64   `json:"first_token_ms,omitempty"`
	TotalMs      int64   `json:"total_ms,omitempty"`
	Completed    bool    `json:"completed"`
	Cancelled    bool    `json:"cancelled,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// Usage summarizes a finished multiplexed request: who won, what every
// branch cost, and how long the election took. The pipeline feeds it
// into router metrics and billing.
type Usage struct {
	Strategy     string         `json:"strategy"`
	Winner       string         `json:"winner,omitempty"`
	Upgraded     bool           `json:"upgraded,omitempty"`
	UpgradedFrom string         `json:"upgraded_from,omitempty"`
	TotalCostUSD float64        `json:"total_cost_usd"`
	ElapsedMs    int64          `json:"elapsed_ms"`
	Branches     []BranchResult `json:"branches"`
}

// Branch returns the result for one provider.
func (u Usage) Branch(providerID string) (BranchResult, bool) {
	for _, br := range u.Branches {
		if br.Provider == providerID {
			return br, true
		}
	}
	return BranchResult{}, false
}

// WinnerBranch returns the committed branch's result.
func (u Usage) WinnerBranch() (BranchResult, bool) {
	if u.Winner == "" {
		return BranchResult{}, false
	}
	return u.Branch(u.Winner)
}

type outItem struct {
	chunk *types.StreamChunk
	err   error
}

// Stream is the consumer side of a multiplexed request. It satisfies
// provider.ChunkStream so callers can treat a raced stream like any
// single-provider stream.
type Stream struct {
	out    chan outItem
	cancel func()

	mu           sync.Mutex
	winner       string
	upgraded     bool
	upgradedFrom string
	usage        Usage
	finished     bool
}

var _ provider.ChunkStream = (*Stream)(nil)

// Recv returns the next committed chunk. It returns io.EOF after the
// final chunk and a terminal error when the race failed.
func (s *Stream) Recv() (*types.StreamChunk, error) {
	item, ok := <-s.out
	if !ok {
		return nil, io.EOF
	}
	if item.err != nil {
		return nil, item.err
	}
	return item.chunk, nil
}

// Close cancels every branch still running. It is safe to call at any
// point and more than once.
func (s *Stream) Close() error {
	s.cancel()
	return nil
}

// Winner returns the committed provider id, or "" before commitment.
func (s *Stream) Winner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.winner
}

// Upgraded reports whether the stream switched branches mid-flight.
func (s *Stream) Upgraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upgraded
}

// Usage returns the final accounting. It is complete once Recv has
// returned io.EOF or an error; before that the snapshot is partial.
func (s *Stream) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Finished reports whether the coordinator has sealed the usage.
func (s *Stream) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

func (s *Stream) setWinner(providerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.winner = providerID
}

func (s *Stream) setUpgrade(from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.winner = to
	s.upgraded = true
	s.upgradedFrom = from
}

func (s *Stream) setUsage(u Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = u
	s.finished = true
}
