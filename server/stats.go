package server

import (
	"sync/atomic"
)

type loadStat struct {
	emptyPolls atomic.Uint64
	validPolls atomic.Uint64
	items      atomic.Uint64
	acks       atomic.Uint64
	answers    atomic.Uint64
	errors     atomic.Uint64
}

func (s *loadStat) record(n int) {
	if n == 0 {
		s.emptyPolls.Add(1)
		return
	}
	s.validPolls.Add(1)
	s.items.Add(uint64(n))
}

// LoadStat contains server load statistics.
type LoadStat struct {
	// EmptyPolls is the number of passes that found no message.
	EmptyPolls uint64 `json:"emptyPolls"`
	// ValidPolls is the number of passes that found at least one message.
	ValidPolls uint64 `json:"validPolls"`
	// Items is the number of messages received, commands and acks.
	Items uint64 `json:"items"`
	// Acks is the number of received acks routed to the ack sink.
	Acks uint64 `json:"acks"`
	// Answers is the number of answers sent.
	Answers uint64 `json:"answers"`
	// Errors is the number of commands answered with rpc_err.
	Errors uint64 `json:"errors"`
}

// ItemsPerPoll returns the average number of messages per valid pass.
func (s LoadStat) ItemsPerPoll() float64 {
	if s.ValidPolls == 0 {
		return 0
	}
	return float64(s.Items) / float64(s.ValidPolls)
}

// LoadStat returns a snapshot of load statistics.
func (svr *Server) LoadStat() LoadStat {
	return LoadStat{
		EmptyPolls: svr.stats.emptyPolls.Load(),
		ValidPolls: svr.stats.validPolls.Load(),
		Items:      svr.stats.items.Load(),
		Acks:       svr.stats.acks.Load(),
		Answers:    svr.stats.answers.Load(),
		Errors:     svr.stats.errors.Load(),
	}
}
