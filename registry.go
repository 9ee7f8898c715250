/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"maps"
	"math"
	"slices"
)

// ParticipantID is issued once per admitted connection and never reused.
type ParticipantID uint64

// Participant holds the data we store server-side for each connection.
type Participant struct {
	ID    ParticipantID
	Color Color
	Score int
}

// Registry owns every connected participant. It is only touched from the
// hub's run loop, so it carries no lock.
type Registry struct {
	lastID       ParticipantID
	participants map[ParticipantID]*Participant
	colors       ColorSource
}

func newRegistry(colors ColorSource) *Registry {
	return &Registry{
		participants: make(map[ParticipantID]*Participant),
		colors:       colors,
	}
}

// Admit creates a participant with a fresh id, a new color and a zero score.
func (r *Registry) Admit() ParticipantID {
	r.lastID++

	r.participants[r.lastID] = &Participant{
		ID:    r.lastID,
		Color: r.colors.Allocate(),
	}

	return r.lastID
}

// Remove is a no-op for ids that are already gone.
func (r *Registry) Remove(id ParticipantID) {
	delete(r.participants, id)
}

func (r *Registry) Get(id ParticipantID) (Participant, bool) {
	p, ok := r.participants[id]
	if !ok {
		return Participant{}, false
	}

	return *p, true
}

// Credit adds delta to a participant's score, keeping the total between zero
// and math.MaxInt, and returns the new total. ok is false when id is unknown.
func (r *Registry) Credit(id ParticipantID, delta int) (total int, ok bool) {
	p, ok := r.participants[id]
	if !ok {
		return 0, false
	}

	if delta > 0 && p.Score > math.MaxInt-delta {
		p.Score = math.MaxInt
	} else {
		p.Score = max(p.Score+delta, 0)
	}

	return p.Score, true
}

// ForEach visits participants in ascending id order.
func (r *Registry) ForEach(fn func(p *Participant)) {
	for _, id := range slices.Sorted(maps.Keys(r.participants)) {
		fn(r.participants[id])
	}
}

func (r *Registry) Len() int {
	return len(r.participants)
}
