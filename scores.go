/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

// ScoreEntry is one line of the intermission leaderboard.
type ScoreEntry struct {
	Color string `json:"color"`
	Score int    `json:"score"`
}

// ScoreSnapshot is built fresh at the end of every round and never mutated.
type ScoreSnapshot []ScoreEntry

// snapshotScores lists every current participant in id order.
func snapshotScores(r *Registry) ScoreSnapshot {
	snapshot := make(ScoreSnapshot, 0, r.Len())

	r.ForEach(func(p *Participant) {
		snapshot = append(snapshot, ScoreEntry{
			Color: p.Color.Display(),
			Score: p.Score,
		})
	})

	return snapshot
}

func resetScores(r *Registry) {
	r.ForEach(func(p *Participant) {
		p.Score = 0
	})
}
