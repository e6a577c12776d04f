package grid

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultSize is the cell edge in degrees (~22m at the equator)
const DefaultSize = 0.0002

// CellID identifies one cell of the grid. Two coordinates share a CellID
// iff they fall inside the same half-open [x*G,(x+1)*G) x [y*G,(y+1)*G) cell.
type CellID struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

// String provides the canonical "x_y" key used on the wire and in maps.
func (c CellID) String() string {
	return fmt.Sprintf("%d_%d", c.X, c.Y)
}

// ParseCellID parses the "x_y" form produced by String.
func ParseCellID(s string) (CellID, error) {
	xs, ys, ok := strings.Cut(s, "_")
	if !ok {
		return CellID{}, fmt.Errorf("invalid cell id %q: missing separator", s)
	}
	x, err := strconv.ParseInt(xs, 10, 64)
	if err != nil {
		return CellID{}, fmt.Errorf("invalid cell id %q: %w", s, err)
	}
	y, err := strconv.ParseInt(ys, 10, 64)
	if err != nil {
		return CellID{}, fmt.Errorf("invalid cell id %q: %w", s, err)
	}
	return CellID{X: x, Y: y}, nil
}

// Point is a (lng, lat) pair, serialized as a GeoJSON position.
type Point [2]float64

// Ring is a closed polygon ring: first and last points are identical.
type Ring []Point

// Bounds is an axis-aligned bounding box in degrees.
type Bounds struct {
	MinLng float64 `json:"min_lng"`
	MinLat float64 `json:"min_lat"`
	MaxLng float64 `json:"max_lng"`
	MaxLat float64 `json:"max_lat"`
}

// Closed reports whether the ring has at least four points and ends where it starts.
func (r Ring) Closed() bool {
	return len(r) >= 4 && r[0] == r[len(r)-1]
}

// Bounds returns the bounding box of the ring.
func (r Ring) Bounds() Bounds {
	if len(r) == 0 {
		return Bounds{}
	}
	b := Bounds{MinLng: r[0][0], MinLat: r[0][1], MaxLng: r[0][0], MaxLat: r[0][1]}
	for _, p := range r[1:] {
		b.MinLng = math.Min(b.MinLng, p[0])
		b.MinLat = math.Min(b.MinLat, p[1])
		b.MaxLng = math.Max(b.MaxLng, p[0])
		b.MaxLat = math.Max(b.MaxLat, p[1])
	}
	return b
}

// Clone returns a copy that shares no backing array with r.
func (r Ring) Clone() Ring {
	if r == nil {
		return nil
	}
	out := make(Ring, len(r))
	copy(out, r)
	return out
}

// Indexer maps coordinates to cells of a fixed-size grid. It holds no state
// besides the cell size and is safe for concurrent use.
type Indexer struct {
	size float64
}

// NewIndexer creates an indexer; a non-positive size falls back to DefaultSize.
func NewIndexer(size float64) *Indexer {
	if size <= 0 || math.IsNaN(size) || math.IsInf(size, 0) {
		size = DefaultSize
	}
	return &Indexer{size: size}
}

// Size returns the cell edge in degrees.
func (ix *Indexer) Size() float64 {
	return ix.size
}

// CellIDFor returns the cell containing (lng, lat). Floor, not truncation,
// so that cells south/west of the origin are numbered consistently.
func (ix *Indexer) CellIDFor(lng, lat float64) CellID {
	return CellID{
		X: int64(math.Floor(lng / ix.size)),
		Y: int64(math.Floor(lat / ix.size)),
	}
}

// BoundsFor returns the bounding box of a cell.
func (ix *Indexer) BoundsFor(id CellID) Bounds {
	return Bounds{
		MinLng: float64(id.X) * ix.size,
		MinLat: float64(id.Y) * ix.size,
		MaxLng: float64(id.X+1) * ix.size,
		MaxLat: float64(id.Y+1) * ix.size,
	}
}

// PolygonFor returns the closed five point ring of the cell, counter-clockwise
// starting at the south-west corner.
func (ix *Indexer) PolygonFor(id CellID) Ring {
	b := ix.BoundsFor(id)
	return Ring{
		{b.MinLng, b.MinLat},
		{b.MaxLng, b.MinLat},
		{b.MaxLng, b.MaxLat},
		{b.MinLng, b.MaxLat},
		{b.MinLng, b.MinLat},
	}
}

// Center returns the midpoint of a cell.
func (ix *Indexer) Center(id CellID) (lng, lat float64) {
	b := ix.BoundsFor(id)
	return (b.MinLng + b.MaxLng) / 2, (b.MinLat + b.MaxLat) / 2
}
