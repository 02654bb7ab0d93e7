package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 保存 HTTP 服务器 (API + WebSocket) 的配置。
type ServerConfig struct {
	Host           string        `mapstructure:"HOST"`
	Port           string        `mapstructure:"PORT"`
	WebSocketPath  string        `mapstructure:"WEBSOCKET_PATH"`
	ReadTimeout    time.Duration `mapstructure:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `mapstructure:"WRITE_TIMEOUT"`
	MaxHeaderBytes int           `mapstructure:"MAX_HEADER_BYTES"`
	CORS           CORSConfig    `mapstructure:"CORS"`
}

// CORSConfig holds configuration for CORS.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `mapstructure:"ALLOWED_METHODS"`
	AllowedHeaders   []string `mapstructure:"ALLOWED_HEADERS"`
	AllowCredentials bool     `mapstructure:"ALLOW_CREDENTIALS"`
	MaxAge           int      `mapstructure:"MAX_AGE"`
}

// RedisConfig holds configuration for Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"ADDR"`
	Password string `mapstructure:"PASSWORD"`
	DB       int    `mapstructure:"DB"`
}

// MongoConfig is only read when GEO.BACKEND is "mongo".
type MongoConfig struct {
	URI        string `mapstructure:"URI"`
	Database   string `mapstructure:"DATABASE"`
	Collection string `mapstructure:"COLLECTION"`
}

// GeoConfig 控制附近献血者查询使用的地理索引。
type GeoConfig struct {
	Backend             string  `mapstructure:"BACKEND"` // "redis", "mongo", "sql"
	RedisKey            string  `mapstructure:"REDIS_KEY"`
	DefaultRadiusMeters float64 `mapstructure:"DEFAULT_RADIUS_METERS"`
	MaxRadiusMeters     float64 `mapstructure:"MAX_RADIUS_METERS"`
	RepairLongitude     float64 `mapstructure:"REPAIR_LONGITUDE"`
	RepairLatitude      float64 `mapstructure:"REPAIR_LATITUDE"`
	SyncSchedule        string  `mapstructure:"SYNC_SCHEDULE"`
	RepairOnSync        bool    `mapstructure:"REPAIR_ON_SYNC"`
}

// KafkaConfig holds configuration for Kafka.
type KafkaConfig struct {
	Enabled            bool     `mapstructure:"ENABLED"`
	Brokers            []string `mapstructure:"BROKERS"`
	ClientID           string   `mapstructure:"CLIENT_ID"`
	RequestEventsTopic string   `mapstructure:"REQUEST_EVENTS_TOPIC"`
	ConsumerGroup      string   `mapstructure:"CONSUMER_GROUP"`
	Protocol           string   `mapstructure:"PROTOCOL"`
}

// NotificationConfig holds settings for notification dispatch.
type NotificationConfig struct {
	ListLimit      int           `mapstructure:"LIST_LIMIT"`
	RetryAttempts  int           `mapstructure:"RETRY_ATTEMPTS"`
	RetryBackoff   time.Duration `mapstructure:"RETRY_BACKOFF"`
	LocalQueueSize int           `mapstructure:"LOCAL_QUEUE_SIZE"`
}

// DatabaseConfig holds configuration for the database.
type DatabaseConfig struct {
	Type       string `mapstructure:"TYPE"` // "postgres" or "sqlite"
	Host       string `mapstructure:"HOST"`
	Port       int    `mapstructure:"PORT"`
	User       string `mapstructure:"USER"`
	Password   string `mapstructure:"PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	SSLMode    string `mapstructure:"SSL_MODE"`
	SQLitePath string `mapstructure:"SQLITE_PATH"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
}

// AuthConfig holds configuration for authentication (e.g., JWT).
type AuthConfig struct {
	JWTSecretKey string        `mapstructure:"JWT_SECRET_KEY"`
	JWTExpiry    time.Duration `mapstructure:"JWT_EXPIRY"`
}

// WebSocketConfig holds configuration for WebSocket connections.
type WebSocketConfig struct {
	WriteWaitSeconds    int `mapstructure:"WRITE_WAIT_SECONDS"`
	PongWaitSeconds     int `mapstructure:"PONG_WAIT_SECONDS"`
	PingPeriodSeconds   int `mapstructure:"PING_PERIOD_SECONDS"`
	MaxMessageSizeBytes int `mapstructure:"MAX_MESSAGE_SIZE_BYTES"`
	SendBufferSize      int `mapstructure:"SEND_BUFFER_SIZE"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"ENABLED"`
	Path    string `mapstructure:"PATH"`
}

// Config holds all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	AppName       string             `mapstructure:"APP_NAME"`
	AppVersion    string             `mapstructure:"APP_VERSION"`
	Environment   string             `mapstructure:"ENVIRONMENT"`
	LogLevel      string             `mapstructure:"LOG_LEVEL"`
	LogFormat     string             `mapstructure:"LOG_FORMAT"`
	Server        ServerConfig       `mapstructure:"SERVER"`
	Database      DatabaseConfig     `mapstructure:"DATABASE"`
	Redis         RedisConfig        `mapstructure:"REDIS"`
	Mongo         MongoConfig        `mapstructure:"MONGO"`
	Geo           GeoConfig          `mapstructure:"GEO"`
	Kafka         KafkaConfig        `mapstructure:"KAFKA"`
	Notifications NotificationConfig `mapstructure:"NOTIFICATIONS"`
	Auth          AuthConfig         `mapstructure:"AUTH"`
	WebSocket     WebSocketConfig    `mapstructure:"WEBSOCKET"`
	Metrics       MetricsConfig      `mapstructure:"METRICS"`
}

// IsProduction reports whether the service runs with production defaults.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "donor-finder")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	v.SetDefault("SERVER.HOST", "0.0.0.0")
	v.SetDefault("SERVER.PORT", "5000")
	v.SetDefault("SERVER.WEBSOCKET_PATH", "/ws")
	v.SetDefault("SERVER.READ_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER.WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER.MAX_HEADER_BYTES", 1<<20) // 1 MB
	v.SetDefault("SERVER.CORS.ALLOWED_ORIGINS", []string{"http://localhost:5173"})
	v.SetDefault("SERVER.CORS.ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("SERVER.CORS.ALLOWED_HEADERS", []string{"Content-Type", "Authorization"})
	v.SetDefault("SERVER.CORS.ALLOW_CREDENTIALS", false)
	v.SetDefault("SERVER.CORS.MAX_AGE", 300)

	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", 5432)
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "password")
	v.SetDefault("DATABASE.DB_NAME", "donor_finder")
	v.SetDefault("DATABASE.SSL_MODE", "disable")
	v.SetDefault("DATABASE.SQLITE_PATH", "donor_finder.db")
	v.SetDefault("DATABASE.LOG_LEVEL", "warn")

	v.SetDefault("REDIS.ADDR", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)

	v.SetDefault("MONGO.URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO.DATABASE", "donor_finder")
	v.SetDefault("MONGO.COLLECTION", "donor_locations")

	v.SetDefault("GEO.BACKEND", "redis")
	v.SetDefault("GEO.REDIS_KEY", "donors:geo")
	v.SetDefault("GEO.DEFAULT_RADIUS_METERS", 10000.0)
	v.SetDefault("GEO.MAX_RADIUS_METERS", 500000.0)
	v.SetDefault("GEO.REPAIR_LONGITUDE", 74.3587)
	v.SetDefault("GEO.REPAIR_LATITUDE", 31.5204)
	v.SetDefault("GEO.SYNC_SCHEDULE", "@every 15m")
	v.SetDefault("GEO.REPAIR_ON_SYNC", false)

	v.SetDefault("KAFKA.ENABLED", false)
	v.SetDefault("KAFKA.BROKERS", []string{"localhost:9092"})
	v.SetDefault("KAFKA.CLIENT_ID", "donor-finder")
	v.SetDefault("KAFKA.REQUEST_EVENTS_TOPIC", "donor-request-events")
	v.SetDefault("KAFKA.CONSUMER_GROUP", "donor-finder-notifications")
	v.SetDefault("KAFKA.PROTOCOL", "plaintext")

	v.SetDefault("NOTIFICATIONS.LIST_LIMIT", 50)
	v.SetDefault("NOTIFICATIONS.RETRY_ATTEMPTS", 3)
	v.SetDefault("NOTIFICATIONS.RETRY_BACKOFF", 200*time.Millisecond)
	v.SetDefault("NOTIFICATIONS.LOCAL_QUEUE_SIZE", 256)

	v.SetDefault("AUTH.JWT_SECRET_KEY", "a_very_secret_key_that_should_be_changed")
	v.SetDefault("AUTH.JWT_EXPIRY", 24*time.Hour)

	v.SetDefault("WEBSOCKET.WRITE_WAIT_SECONDS", 10)
	v.SetDefault("WEBSOCKET.PONG_WAIT_SECONDS", 60)
	v.SetDefault("WEBSOCKET.PING_PERIOD_SECONDS", 54) // (60 * 9) / 10
	v.SetDefault("WEBSOCKET.MAX_MESSAGE_SIZE_BYTES", 1024)
	v.SetDefault("WEBSOCKET.SEND_BUFFER_SIZE", 64)

	v.SetDefault("METRICS.ENABLED", true)
	v.SetDefault("METRICS.PATH", "/metrics")
}

// LoadConfig reads configuration from file or environment variables.
// A .env file in the working directory is loaded first when present.
func LoadConfig(path string) (config Config, err error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// DATABASE_HOST overrides DATABASE.HOST, GEO_BACKEND overrides GEO.BACKEND, ...
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return
		}
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}
