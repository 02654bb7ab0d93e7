package geo

import (
	"context"
	"sort"

	"donor-finder/internal/models"
	"donor-finder/internal/storage"
)

// sqlIndex answers radius queries straight from the users table:
// a bounding-box prefilter in SQL, exact haversine filtering and ordering in Go.
type sqlIndex struct {
	users storage.UserRepository
}

// NewSQLIndex returns a DonorIndex backed by the primary database.
func NewSQLIndex(users storage.UserRepository) DonorIndex {
	return &sqlIndex{users: users}
}

func (s *sqlIndex) Name() string { return "sql" }

// Upsert is a no-op: the users table is the index.
func (s *sqlIndex) Upsert(context.Context, uint, models.GeoPoint) error { return nil }

func (s *sqlIndex) Remove(context.Context, uint) error { return nil }

func (s *sqlIndex) Rebuild(_ context.Context, donors []models.User) (int, error) {
	return len(donors), nil
}

func (s *sqlIndex) Near(ctx context.Context, q NearQuery) ([]Hit, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	minLat, maxLat, minLng, maxLng := BoundingBox(q.Center, q.RadiusMeters)
	donors, err := s.users.FindDonorsInBox(ctx, minLat, maxLat, minLng, maxLng)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(donors))
	for i := range donors {
		p, ok := donors[i].Location()
		if !ok {
			continue
		}
		d := q.Center.DistanceMeters(p)
		if d <= q.RadiusMeters {
			hits = append(hits, Hit{UserID: donors[i].ID, DistanceMeters: d})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].DistanceMeters < hits[j].DistanceMeters })
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}
