// Package config loads kvdoc CLI configuration from flags, KVDOC_* environment
// variables and .env files.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
	BackendMongoDB  = "mongodb"
)

// EnvPrefix is the prefix of environment variables, e.g. KVDOC_REDIS_ADDR for
// --redis-addr.
const EnvPrefix = "kvdoc"

// Config holds the CLI configuration.
type Config struct {
	Backend  string
	Codec    string
	LogLevel slog.Level
	Timeout  time.Duration
	Stats    bool

	Redis    RedisConfig
	DynamoDB DynamoDBConfig
	MongoDB  MongoDBConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type DynamoDBConfig struct {
	Table       string
	Region      string
	Endpoint    string
	CreateTable bool
}

type MongoDBConfig struct {
	URI        string
	Database   string
	Collection string
}

var ErrUnknownBackend = errors.New("config: unknown backend")

// RegisterFlags adds every configuration flag to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("backend", BackendMemory, "store backend (memory, redis, dynamodb, mongodb)")
	fs.String("codec", "json", "payload codec (json, cbor)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.Duration("timeout", 30*time.Second, "timeout of a single command")
	fs.Bool("stats", false, "print store operation counts after the command")

	fs.String("redis-addr", "localhost:6379", "redis address")
	fs.String("redis-password", "", "redis password")
	fs.Int("redis-db", 0, "redis database")
	fs.String("redis-prefix", "kvdoc:", "prefix of every redis key")

	fs.String("dynamodb-table", "kvdoc", "dynamodb table")
	fs.String("dynamodb-region", "", "aws region (default from the aws config chain)")
	fs.String("dynamodb-endpoint", "", "custom dynamodb endpoint, e.g. http://localhost:8000")
	fs.Bool("dynamodb-create-table", false, "create the table if it does not exist")

	fs.String("mongodb-uri", "mongodb://localhost:27017", "mongodb connection uri")
	fs.String("mongodb-database", "kvdoc", "mongodb database")
	fs.String("mongodb-collection", "entries", "mongodb collection")
}

// New returns a viper instance reading .env, .env.local and KVDOC_*
// environment variables, with fs bound as the flag source.
func New(fs *pflag.FlagSet) (*viper.Viper, error) {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Load reads and validates the configuration from v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Backend: strings.ToLower(v.GetString("backend")),
		Codec:   v.GetString("codec"),
		Timeout: v.GetDuration("timeout"),
		Stats:   v.GetBool("stats"),
		Redis: RedisConfig{
			Addr:     v.GetString("redis-addr"),
			Password: v.GetString("redis-password"),
			DB:       v.GetInt("redis-db"),
			Prefix:   v.GetString("redis-prefix"),
		},
		DynamoDB: DynamoDBConfig{
			Table:       v.GetString("dynamodb-table"),
			Region:      v.GetString("dynamodb-region"),
			Endpoint:    v.GetString("dynamodb-endpoint"),
			CreateTable: v.GetBool("dynamodb-create-table"),
		},
		MongoDB: MongoDBConfig{
			URI:        v.GetString("mongodb-uri"),
			Database:   v.GetString("mongodb-database"),
			Collection: v.GetString("mongodb-collection"),
		},
	}

	if cfg.Backend == "" {
		cfg.Backend = BackendMemory
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		return nil, fmt.Errorf("config: log level: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("config: redis-addr is required")
		}
	case BackendDynamoDB:
		if c.DynamoDB.Table == "" {
			return errors.New("config: dynamodb-table is required")
		}
	case BackendMongoDB:
		if c.MongoDB.URI == "" || c.MongoDB.Database == "" || c.MongoDB.Collection == "" {
			return errors.New("config: mongodb-uri, mongodb-database and mongodb-collection are required")
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownBackend, c.Backend)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive, got %s", c.Timeout)
	}
	return nil
}
