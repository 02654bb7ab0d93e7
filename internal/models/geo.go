package models

import (
	"encoding/json"
	"errors"
	"math"
)

// EarthRadiusMeters is the mean earth radius used for haversine distances.
const EarthRadiusMeters = 6371008.8

// ErrInvalidCoordinates is returned for points outside lat [-90,90] / lng [-180,180].
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// GeoPoint is a (longitude, latitude) pair in degrees.
type GeoPoint struct {
	Longitude float64
	Latitude  float64
}

// Validate checks the coordinate ranges.
func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) ||
		p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}

// DistanceMeters returns the great-circle distance between p and q.
func (p GeoPoint) DistanceMeters(q GeoPoint) float64 {
	lat1 := p.Latitude * math.Pi / 180
	lat2 := q.Latitude * math.Pi / 180
	dLat := (q.Latitude - p.Latitude) * math.Pi / 180
	dLng := (q.Longitude - p.Longitude) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// geoJSONPoint mirrors the GeoJSON "Point" wire shape.
type geoJSONPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// MarshalJSON encodes p as a GeoJSON Point, [lng, lat].
func (p GeoPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(geoJSONPoint{Type: "Point", Coordinates: []float64{p.Longitude, p.Latitude}})
}

// UnmarshalJSON decodes a GeoJSON Point.
func (p *GeoPoint) UnmarshalJSON(data []byte) error {
	var raw geoJSONPoint
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Coordinates) != 2 {
		return ErrInvalidCoordinates
	}
	p.Longitude, p.Latitude = raw.Coordinates[0], raw.Coordinates[1]
	return nil
}
