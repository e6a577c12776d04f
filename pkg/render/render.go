// Package render holds the map-facing surface: a Sink that receives the
// claimed-cell layer, camera moves and status text, plus GeoJSON helpers.
package render

import (
	"sync"

	"github.com/heitortanoue/gridclaim/pkg/grid"
	"github.com/heitortanoue/gridclaim/pkg/state"
)

// Sink is the display the sync engine and motion tracker draw on.
// Implementations must be safe for concurrent use.
type Sink interface {
	// SetFeatures replaces the whole claimed-cell layer.
	SetFeatures(fc FeatureCollection)
	Recenter(lng, lat float64)
	PlaceMarker(lng, lat float64)
	// SetStatus shows a status line; the empty string clears it.
	SetStatus(msg string)
	SetCount(n int)
}

// Geometry is a GeoJSON polygon.
type Geometry struct {
	Type        string         `json:"type"`
	Coordinates [][]grid.Point `json:"coordinates"`
}

// Properties carried by each claimed-cell feature.
type Properties struct {
	Color  string `json:"color"`
	CellID string `json:"cell_id"`
}

// Feature is one claimed cell.
type Feature struct {
	Type       string     `json:"type"`
	Geometry   Geometry   `json:"geometry"`
	Properties Properties `json:"properties"`
}

// FeatureCollection is the full claimed-cell layer.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// FeatureFor converts a claim into its polygon feature.
func FeatureFor(c state.Claim) Feature {
	return Feature{
		Type: "Feature",
		Geometry: Geometry{
			Type:        "Polygon",
			Coordinates: [][]grid.Point{c.Geometry.Clone()},
		},
		Properties: Properties{
			Color:  c.Color,
			CellID: c.CellID.String(),
		},
	}
}

// FromClaims builds a collection with one feature per claim, in order.
func FromClaims(claims []state.Claim) FeatureCollection {
	fc := FeatureCollection{Type: "FeatureCollection", Features: make([]Feature, 0, len(claims))}
	for _, c := range claims {
		fc.Features = append(fc.Features, FeatureFor(c))
	}
	return fc
}

type multiSink []Sink

// Multi fans every call out to all sinks, in order.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

func (m multiSink) SetFeatures(fc FeatureCollection) {
	for _, s := range m {
		s.SetFeatures(fc)
	}
}

func (m multiSink) Recenter(lng, lat float64) {
	for _, s := range m {
		s.Recenter(lng, lat)
	}
}

func (m multiSink) PlaceMarker(lng, lat float64) {
	for _, s := range m {
		s.PlaceMarker(lng, lat)
	}
}

func (m multiSink) SetStatus(msg string) {
	for _, s := range m {
		s.SetStatus(msg)
	}
}

func (m multiSink) SetCount(n int) {
	for _, s := range m {
		s.SetCount(n)
	}
}

type discard struct{}

func (discard) SetFeatures(FeatureCollection) {}
func (discard) Recenter(float64, float64)     {}
func (discard) PlaceMarker(float64, float64)  {}
func (discard) SetStatus(string)              {}
func (discard) SetCount(int)                  {}

// Discard drops everything.
var Discard Sink = discard{}

// Recorder keeps every call for later inspection.
type Recorder struct {
	mutex     sync.Mutex
	features  []FeatureCollection
	recenters []grid.Point
	markers   []grid.Point
	statuses  []string
	counts    []int
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) SetFeatures(fc FeatureCollection) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.features = append(r.features, fc)
}

func (r *Recorder) Recenter(lng, lat float64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.recenters = append(r.recenters, grid.Point{lng, lat})
}

func (r *Recorder) PlaceMarker(lng, lat float64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.markers = append(r.markers, grid.Point{lng, lat})
}

func (r *Recorder) SetStatus(msg string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.statuses = append(r.statuses, msg)
}

func (r *Recorder) SetCount(n int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.counts = append(r.counts, n)
}

// LastFeatures returns the most recent layer, or an empty collection.
func (r *Recorder) LastFeatures() FeatureCollection {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if len(r.features) == 0 {
		return FeatureCollection{Type: "FeatureCollection"}
	}
	return r.features[len(r.features)-1]
}

// FeatureUpdates returns how many times the layer was replaced.
func (r *Recorder) FeatureUpdates() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.features)
}

func (r *Recorder) Recenters() []grid.Point {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]grid.Point(nil), r.recenters...)
}

func (r *Recorder) Markers() []grid.Point {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]grid.Point(nil), r.markers...)
}

func (r *Recorder) Statuses() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string(nil), r.statuses...)
}

// LastCount returns the last published count, or -1 if none.
func (r *Recorder) LastCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if len(r.counts) == 0 {
		return -1
	}
	return r.counts[len(r.counts)-1]
}
