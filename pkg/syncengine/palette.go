package syncengine

import (
	"math/rand"
	"sync"
	"time"
)

// DefaultPalette is the set of colors locally originated claims pick from.
var DefaultPalette = []string{"#00f2ff", "#00ff9d", "#ff0055", "#ffee00", "#7a00ff"}

// ColorPicker chooses the color of a new local claim. The choice is
// cosmetic; only the first accepted claim's color is kept.
type ColorPicker interface {
	Pick() string
}

// Palette picks uniformly at random from a fixed list of colors.
type Palette struct {
	colors []string
	rng    *rand.Rand
	mutex  sync.Mutex
}

// NewPalette creates a palette over colors, or DefaultPalette when none are
// given. A zero seed uses the current time.
func NewPalette(seed int64, colors ...string) *Palette {
	if len(colors) == 0 {
		colors = DefaultPalette
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Palette{
		colors: append([]string(nil), colors...),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Pick returns a uniformly random palette entry.
func (p *Palette) Pick() string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.colors[p.rng.Intn(len(p.colors))]
}

// Colors returns the palette entries.
func (p *Palette) Colors() []string {
	return append([]string(nil), p.colors...)
}

// FixedColor always picks the same color.
type FixedColor string

// Pick returns c.
func (c FixedColor) Pick() string { return string(c) }
