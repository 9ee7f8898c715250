/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/lucasb-eyer/go-colorful"
)

// Color is an RGB triple, serialized as [r, g, b].
type Color [3]uint8

// Display renders the color the way the scoreboard shows it.
func (c Color) Display() string {
	return fmt.Sprintf("rgb( %d, %d, %d )", c[0], c[1], c[2])
}

// ColorSource hands out participant colors.
type ColorSource interface {
	Allocate() Color
}

const (
	colorCandidates = 12
	colorMemory     = 8
)

// ColorAllocator picks bright colors, preferring the candidate that is
// perceptually furthest (CIEDE2000) from the most recently issued ones.
type ColorAllocator struct {
	rng    *rand.Rand
	recent []colorful.Color
}

func newColorAllocator(seed uint64) *ColorAllocator {
	return &ColorAllocator{
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		recent: make([]colorful.Color, 0, colorMemory),
	}
}

func (a *ColorAllocator) candidate() colorful.Color {
	h := a.rng.Float64() * 360
	s := 0.65 + a.rng.Float64()*0.35
	v := 0.85 + a.rng.Float64()*0.15

	return colorful.Hsv(h, s, v)
}

// Allocate returns a new color and remembers it for the next allocations.
func (a *ColorAllocator) Allocate() Color {
	best := a.candidate()
	bestDist := a.minDistance(best)

	for i := 1; i < colorCandidates; i++ {
		c := a.candidate()
		if d := a.minDistance(c); d > bestDist {
			best, bestDist = c, d
		}
	}

	if len(a.recent) == colorMemory {
		a.recent = append(a.recent[:0], a.recent[1:]...)
	}
	a.recent = append(a.recent, best)

	r, g, b := best.Clamped().RGB255()

	return Color{r, g, b}
}

// minDistance is the distance to the closest recent color, or a large
// sentinel when nothing has been issued yet.
func (a *ColorAllocator) minDistance(c colorful.Color) float64 {
	minDist := 1e9
	for _, r := range a.recent {
		if d := c.DistanceCIEDE2000(r); d < minDist {
			minDist = d
		}
	}

	return minDist
}
