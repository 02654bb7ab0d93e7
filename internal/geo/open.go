package geo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"donor-finder/internal/config"
	"donor-finder/internal/storage"
)

// Open builds the index named by GEO.BACKEND. The returned func releases any
// connection the index owns. redisClient may be nil unless the backend is redis.
func Open(ctx context.Context, cfg config.Config, redisClient *redis.Client, users storage.UserRepository, logger *zap.Logger) (DonorIndex, func(), error) {
	noop := func() {}
	switch cfg.Geo.Backend {
	case "redis":
		if redisClient == nil {
			return nil, noop, errors.New("redis 客户端未初始化")
		}
		return NewRedisIndex(redisClient, cfg.Geo.RedisKey), noop, nil
	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, noop, fmt.Errorf("连接 MongoDB 失败: %w", err)
		}
		if err := client.Ping(connectCtx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, noop, fmt.Errorf("MongoDB ping 失败: %w", err)
		}
		index, err := NewMongoIndex(connectCtx, client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection))
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, noop, err
		}
		closeFn := func() {
			if err := client.Disconnect(context.Background()); err != nil {
				logger.Warn("断开 MongoDB 连接失败", zap.Error(err))
			}
		}
		return index, closeFn, nil
	case "sql", "":
		return NewSQLIndex(users), noop, nil
	}
	return nil, noop, fmt.Errorf("不支持的地理索引后端: %s", cfg.Geo.Backend)
}
