package service

import (
	"sync/atomic"
	"time"
)

type State struct {
	ready     atomic.Bool
	startedAt time.Time

	gatewayConnected atomic.Bool
	lastCycleUnix    atomic.Int64 // unix nanoseconds
	monitored        atomic.Int64
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetGatewayConnected(v bool) { s.gatewayConnected.Store(v) }
func (s *State) GatewayConnected() bool     { return s.gatewayConnected.Load() }

// TouchCycle отмечает завершённый цикл опроса и размер watch-list.
func (s *State) TouchCycle(t time.Time, symbols int) {
	s.lastCycleUnix.Store(t.UnixNano())
	s.monitored.Store(int64(symbols))
}

func (s *State) LastCycle() time.Time {
	u := s.lastCycleUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(0, u)
}

func (s *State) Monitored() int { return int(s.monitored.Load()) }

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
