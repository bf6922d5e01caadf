package service

import (
	"sync/atomic"
	"time"
)

// State: флаги процесса для /readyz и /healthz. Все поля атомарные, пишут модули из своих горутин.
type State struct {
	ready     atomic.Bool
	startedAt time.Time

	marketConnected atomic.Bool
	feedConnected   atomic.Bool
	lastCandleUnix  atomic.Int64 // unix seconds
}

func NewState() *State {
	return &State{startedAt: time.Now()}
}

// SetReady: runner ставит после Restore и запуска циклов.
func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetMarketConnected(v bool) { s.marketConnected.Store(v) }
func (s *State) MarketConnected() bool     { return s.marketConnected.Load() }

func (s *State) SetFeedConnected(v bool) { s.feedConnected.Store(v) }
func (s *State) FeedConnected() bool     { return s.feedConnected.Load() }

// TouchCandle: время закрытия последней свечи; старые значения не откатывают новое.
func (s *State) TouchCandle(t time.Time) {
	u := t.Unix()
	for {
		cur := s.lastCandleUnix.Load()
		if u <= cur || s.lastCandleUnix.CompareAndSwap(cur, u) {
			return
		}
	}
}

func (s *State) LastCandle() time.Time {
	u := s.lastCandleUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
