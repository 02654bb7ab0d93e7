package geo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"donor-finder/internal/models"
)

// redisIndex keeps donor points in a Redis GEO sorted set.
type redisIndex struct {
	client *redis.Client
	key    string
}

// NewRedisIndex returns a DonorIndex over the GEO set at key.
func NewRedisIndex(client *redis.Client, key string) DonorIndex {
	return &redisIndex{client: client, key: key}
}

func (r *redisIndex) Name() string { return "redis" }

func (r *redisIndex) Upsert(ctx context.Context, userID uint, p models.GeoPoint) error {
	err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Name:      memberName(userID),
		Longitude: p.Longitude,
		Latitude:  p.Latitude,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis GEOADD for donor %d failed: %w", userID, err)
	}
	return nil
}

func (r *redisIndex) Remove(ctx context.Context, userID uint) error {
	if err := r.client.ZRem(ctx, r.key, memberName(userID)).Err(); err != nil {
		return fmt.Errorf("redis ZREM for donor %d failed: %w", userID, err)
	}
	return nil
}

// Near runs GEOSEARCH FROMLONLAT ... BYRADIUS r m ASC WITHDIST.
func (r *redisIndex) Near(ctx context.Context, q NearQuery) ([]Hit, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	locations, err := r.client.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  q.Center.Longitude,
			Latitude:   q.Center.Latitude,
			Radius:     q.RadiusMeters,
			RadiusUnit: "m",
			Sort:       "ASC",
			Count:      q.Limit,
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis GEOSEARCH failed: %w", err)
	}

	hits := make([]Hit, 0, len(locations))
	for _, loc := range locations {
		id, err := strconv.ParseUint(loc.Name, 10, 64)
		if err != nil {
			continue
		}
		hits = append(hits, Hit{UserID: uint(id), DistanceMeters: loc.Dist})
	}
	return hits, nil
}

// Rebuild swaps in a freshly built set so readers never see a half-filled index.
func (r *redisIndex) Rebuild(ctx context.Context, donors []models.User) (int, error) {
	tmpKey := r.key + ":rebuild"
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, tmpKey)

	added := 0
	for i := range donors {
		p, ok := donors[i].Location()
		if !ok || p.Validate() != nil {
			continue
		}
		pipe.GeoAdd(ctx, tmpKey, &redis.GeoLocation{
			Name:      memberName(donors[i].ID),
			Longitude: p.Longitude,
			Latitude:  p.Latitude,
		})
		added++
	}
	if added == 0 {
		pipe.Del(ctx, r.key)
	} else {
		pipe.Rename(ctx, tmpKey, r.key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis geo rebuild failed: %w", err)
	}
	return added, nil
}
