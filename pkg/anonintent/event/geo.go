package event

import (
	"math"
	"time"
)

// anonymizedDecimals keeps two decimal places of latitude/longitude,
// roughly 1.1 km at the equator.
const anonymizedDecimals = 2

// anonymizedAccuracy is the accuracy floor, in meters, reported for
// reduced positions.
const anonymizedAccuracy = 1000.0

// Position is a raw reading from a geolocation provider.
// Optional fields are nil when the provider has no reading.
type Position struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
	Altitude  *float64
	Heading   *float64
	Speed     *float64
	Timestamp time.Time
}

// Geo is the location attached to an event.
type Geo struct {
	Latitude   float64   `json:"lat"`
	Longitude  float64   `json:"lng"`
	Accuracy   float64   `json:"accuracy"`
	Altitude   *float64  `json:"altitude,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
	Anonymized bool      `json:"anonymized"`
}

// ReduceGeo converts a raw reading into the Geo attached to an event.
// Returns nil for a nil or out-of-range reading.
func ReduceGeo(p *Position, anonymize bool) *Geo {
	if p == nil || !validCoordinate(p.Latitude, 90) || !validCoordinate(p.Longitude, 180) {
		return nil
	}

	g := &Geo{
		Latitude:   p.Latitude,
		Longitude:  p.Longitude,
		Accuracy:   p.Accuracy,
		Altitude:   nonNegative(p.Altitude),
		Heading:    nonNegative(p.Heading),
		Speed:      nonNegative(p.Speed),
		CapturedAt: p.Timestamp.UTC(),
		Anonymized: anonymize,
	}
	if anonymize {
		g.Latitude = roundTo(p.Latitude, anonymizedDecimals)
		g.Longitude = roundTo(p.Longitude, anonymizedDecimals)
		g.Accuracy = math.Max(p.Accuracy, anonymizedAccuracy)
		g.CapturedAt = g.CapturedAt.Truncate(time.Minute)
	}
	return g
}

func validCoordinate(v, limit float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= -limit && v <= limit
}

func nonNegative(v *float64) *float64 {
	if v == nil || *v < 0 || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	out := *v
	return &out
}

func roundTo(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}
