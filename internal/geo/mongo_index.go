package geo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"donor-finder/internal/models"
)

// donorLocationDoc is one donor point stored as GeoJSON.
type donorLocationDoc struct {
	UserID   uint            `bson:"_id"`
	Location geoJSONLocation `bson:"location"`
}

type geoJSONLocation struct {
	Type        string    `bson:"type"`
	Coordinates []float64 `bson:"coordinates"`
}

type nearResult struct {
	UserID   uint    `bson:"_id"`
	Distance float64 `bson:"distance"`
}

// mongoIndex keeps donor points in a collection with a 2dsphere index.
type mongoIndex struct {
	collection *mongo.Collection
}

// NewMongoIndex ensures the 2dsphere index exists and returns the DonorIndex.
func NewMongoIndex(ctx context.Context, collection *mongo.Collection) (DonorIndex, error) {
	_, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "location", Value: "2dsphere"}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create 2dsphere index: %w", err)
	}
	return &mongoIndex{collection: collection}, nil
}

func (m *mongoIndex) Name() string { return "mongo" }

func toDoc(userID uint, p models.GeoPoint) donorLocationDoc {
	return donorLocationDoc{
		UserID: userID,
		Location: geoJSONLocation{
			Type:        "Point",
			Coordinates: []float64{p.Longitude, p.Latitude},
		},
	}
}

func (m *mongoIndex) Upsert(ctx context.Context, userID uint, p models.GeoPoint) error {
	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": userID}, toDoc(userID, p), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo upsert for donor %d failed: %w", userID, err)
	}
	return nil
}

func (m *mongoIndex) Remove(ctx context.Context, userID uint) error {
	if _, err := m.collection.DeleteOne(ctx, bson.M{"_id": userID}); err != nil {
		return fmt.Errorf("mongo delete for donor %d failed: %w", userID, err)
	}
	return nil
}

// Near uses $geoNear, which returns documents nearest-first with the computed distance.
func (m *mongoIndex) Near(ctx context.Context, q NearQuery) ([]Hit, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	pipeline := mongo.Pipeline{
		{{Key: "$geoNear", Value: bson.D{
			{Key: "near", Value: bson.D{
				{Key: "type", Value: "Point"},
				{Key: "coordinates", Value: bson.A{q.Center.Longitude, q.Center.Latitude}},
			}},
			{Key: "distanceField", Value: "distance"},
			{Key: "maxDistance", Value: q.RadiusMeters},
			{Key: "spherical", Value: true},
		}}},
	}
	if q.Limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: q.Limit}})
	}

	cursor, err := m.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("mongo $geoNear failed: %w", err)
	}
	defer cursor.Close(ctx)

	var results []nearResult
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode $geoNear results: %w", err)
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{UserID: r.UserID, DistanceMeters: r.Distance})
	}
	return hits, nil
}

func (m *mongoIndex) Rebuild(ctx context.Context, donors []models.User) (int, error) {
	if _, err := m.collection.DeleteMany(ctx, bson.M{}); err != nil {
		return 0, fmt.Errorf("failed to clear donor locations: %w", err)
	}
	var docs []interface{}
	for i := range donors {
		p, ok := donors[i].Location()
		if !ok || p.Validate() != nil {
			continue
		}
		docs = append(docs, toDoc(donors[i].ID, p))
	}
	if len(docs) == 0 {
		return 0, nil
	}
	res, err := m.collection.InsertMany(ctx, docs)
	if err != nil {
		return 0, fmt.Errorf("failed to insert donor locations: %w", err)
	}
	return len(res.InsertedIDs), nil
}
