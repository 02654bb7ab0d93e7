// Package geo answers "which donors are near this point" against a persisted
// set of donor locations.
package geo

import (
	"context"
	"errors"
	"fmt"
	"math"

	"donor-finder/internal/models"
)

// ErrInvalidRadius is returned for a non-positive or non-finite radius.
var ErrInvalidRadius = errors.New("radius must be a positive number of meters")

// Hit is a single donor match, nearest first.
type Hit struct {
	UserID         uint
	DistanceMeters float64
}

// NearQuery bounds a nearest-neighbour lookup.
type NearQuery struct {
	Center       models.GeoPoint
	RadiusMeters float64
	Limit        int // 0 = unlimited
}

// Validate checks the centre point and radius.
func (q NearQuery) Validate() error {
	if err := q.Center.Validate(); err != nil {
		return err
	}
	if q.RadiusMeters <= 0 || math.IsNaN(q.RadiusMeters) || math.IsInf(q.RadiusMeters, 0) {
		return ErrInvalidRadius
	}
	return nil
}

// DonorIndex stores donor points and answers radius queries ordered by distance.
type DonorIndex interface {
	Upsert(ctx context.Context, userID uint, p models.GeoPoint) error
	Remove(ctx context.Context, userID uint) error
	Near(ctx context.Context, q NearQuery) ([]Hit, error)
	// Rebuild replaces the index contents with donors.
	Rebuild(ctx context.Context, donors []models.User) (int, error)
	Name() string
}

// BoundingBox returns the lat/lng box that encloses the circle (center, radius).
func BoundingBox(center models.GeoPoint, radiusMeters float64) (minLat, maxLat, minLng, maxLng float64) {
	angular := radiusMeters / models.EarthRadiusMeters
	latDelta := angular * 180 / math.Pi
	minLat = math.Max(center.Latitude-latDelta, -90)
	maxLat = math.Min(center.Latitude+latDelta, 90)

	cosLat := math.Cos(center.Latitude * math.Pi / 180)
	if cosLat < 1e-9 || maxLat >= 90 || minLat <= -90 {
		return minLat, maxLat, -180, 180
	}
	// the circle is widest poleward of the center, at asin(sin δ / cos φ)
	ratio := math.Sin(angular) / cosLat
	if angular >= math.Pi/2 || ratio >= 1 {
		return minLat, maxLat, -180, 180
	}
	lngDelta := math.Asin(ratio) * 180 / math.Pi
	minLng = center.Longitude - lngDelta
	maxLng = center.Longitude + lngDelta
	if minLng < -180 || maxLng > 180 {
		// crosses the antimeridian; a full-width box is still correct, only looser
		return minLat, maxLat, -180, 180
	}
	return minLat, maxLat, minLng, maxLng
}

func memberName(userID uint) string {
	return fmt.Sprintf("%d", userID)
}
