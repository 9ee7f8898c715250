/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import "time"

// Phase is one half of the endless round/intermission cycle.
type Phase int

const (
	PhaseRunning Phase = iota
	PhaseIntermission
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseIntermission:
		return "intermission"
	default:
		return "unknown"
	}
}

// TickResult describes what a single tick did to the clock.
type TickResult struct {
	Phase        Phase
	Remaining    time.Duration
	Transitioned bool
}

// RoundClock is the round state machine. It starts in PhaseRunning with
// nothing left on the clock, so the first tick ends an empty round and
// opens an intermission.
type RoundClock struct {
	phase        Phase
	remaining    time.Duration
	round        time.Duration
	intermission time.Duration
	tick         time.Duration
}

func newRoundClock(round, intermission, tick time.Duration) *RoundClock {
	return &RoundClock{
		phase:        PhaseRunning,
		round:        round,
		intermission: intermission,
		tick:         tick,
	}
}

// Tick advances the clock by one tick interval. A phase ends on the tick
// that brings the remaining time to zero or below.
func (c *RoundClock) Tick() TickResult {
	c.remaining -= c.tick

	if c.remaining > 0 {
		return TickResult{Phase: c.phase, Remaining: c.remaining}
	}

	switch c.phase {
	case PhaseRunning:
		c.phase = PhaseIntermission
		c.remaining = c.intermission
	case PhaseIntermission:
		c.phase = PhaseRunning
		c.remaining = c.round
	}

	return TickResult{Phase: c.phase, Remaining: c.remaining, Transitioned: true}
}

func (c *RoundClock) Phase() Phase {
	return c.phase
}

func (c *RoundClock) Remaining() time.Duration {
	return c.remaining
}
