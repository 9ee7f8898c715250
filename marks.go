/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"time"
)

type activeMark struct {
	star      json.RawMessage
	expiresAt time.Time
}

// MarkLog remembers recently placed marks until they fade, so a client that
// joins mid-round can draw what everyone else still sees. Marks are kept in
// insertion order, which is also expiry order.
type MarkLog struct {
	lifetime time.Duration
	limit    int
	marks    []activeMark
}

func newMarkLog(lifetime time.Duration, limit int) *MarkLog {
	return &MarkLog{
		lifetime: lifetime,
		limit:    limit,
	}
}

// Add records star, evicting the oldest mark once the log is full.
func (l *MarkLog) Add(star json.RawMessage, now time.Time) {
	if len(l.marks) >= l.limit {
		l.marks = l.marks[len(l.marks)-l.limit+1:]
	}

	l.marks = append(l.marks, activeMark{
		star:      star,
		expiresAt: now.Add(l.lifetime),
	})
}

// Prune drops every mark whose expiry is at or before now.
func (l *MarkLog) Prune(now time.Time) {
	i := 0
	for i < len(l.marks) && !l.marks[i].expiresAt.After(now) {
		i++
	}

	if i > 0 {
		l.marks = append(l.marks[:0], l.marks[i:]...)
	}
}

func (l *MarkLog) Active() []json.RawMessage {
	stars := make([]json.RawMessage, len(l.marks))
	for i, m := range l.marks {
		stars[i] = m.star
	}

	return stars
}

func (l *MarkLog) Len() int {
	return len(l.marks)
}
