// Package config loads server settings from config/config.yaml, a .env file and
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port        string   `mapstructure:"port"`
	Mode        string   `mapstructure:"mode"`
	CORSOrigins []string `mapstructure:"corsOrigins"`
}

// StoreConfig selects the entity store backend.
type StoreConfig struct {
	Driver       string        `mapstructure:"driver"` // memory, mongo or postgres
	QueryTimeout time.Duration `mapstructure:"queryTimeout"`
}

type MongoConfig struct {
	URI    string `mapstructure:"uri"`
	DBName string `mapstructure:"dbName"`
}

type PostgresConfig struct {
	ConnString string `mapstructure:"connString"`
	MaxConns   int32  `mapstructure:"maxConns"`
	MinConns   int32  `mapstructure:"minConns"`
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Expiration time.Duration `mapstructure:"expiration"`
}

// S3Config enables publishing of QR images when Bucket is set.
type S3Config struct {
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	AccessKeyID      string `mapstructure:"accessKeyID"`
	SecretAccessKey  string `mapstructure:"secretAccessKey"`
	CloudFrontDomain string `mapstructure:"cloudFrontDomain"`
}

// RedisConfig enables the artifact read-through cache when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
	// KeyPrefix namespaces entries so deployments sharing a server never
	// read each other's artifacts.
	KeyPrefix string `mapstructure:"keyPrefix"`
}

type QRConfig struct {
	BaseURL string `mapstructure:"baseURL"`
	Size    int    `mapstructure:"size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// SeedConfig is the bootstrap admin account created by the seed command.
type SeedConfig struct {
	AdminEmail      string `mapstructure:"adminEmail"`
	AdminPassword   string `mapstructure:"adminPassword"`
	CooperativeName string `mapstructure:"cooperativeName"`
	Country         string `mapstructure:"country"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	S3       S3Config       `mapstructure:"s3"`
	Redis    RedisConfig    `mapstructure:"redis"`
	QR       QRConfig       `mapstructure:"qr"`
	Log      LogConfig      `mapstructure:"log"`
	Seed     SeedConfig     `mapstructure:"seed"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.corsOrigins", []string{"*"})
	v.SetDefault("store.driver", "mongo")
	v.SetDefault("store.queryTimeout", 5*time.Second)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.dbName", "coffee_trace")
	v.SetDefault("jwt.expiration", 24*time.Hour)
	v.SetDefault("redis.ttl", 24*time.Hour)
	v.SetDefault("redis.keyPrefix", "coffee:qr:")
	v.SetDefault("qr.baseURL", "http://localhost:3000")
	v.SetDefault("qr.size", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("seed.adminEmail", "admin@coffeetrace.local")
	v.SetDefault("seed.cooperativeName", "Demo Coffee Cooperative")
}

func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.mode", "GIN_MODE")
	_ = v.BindEnv("store.driver", "STORE_DRIVER")
	_ = v.BindEnv("store.queryTimeout", "STORE_QUERY_TIMEOUT")
	_ = v.BindEnv("mongo.uri", "MONGO_URI")
	_ = v.BindEnv("mongo.dbName", "MONGO_DBNAME")
	_ = v.BindEnv("postgres.connString", "DATABASE_URL")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = v.BindEnv("s3.bucket", "S3_BUCKET")
	_ = v.BindEnv("s3.region", "S3_REGION")
	_ = v.BindEnv("s3.accessKeyID", "S3_ACCESS_KEY_ID")
	_ = v.BindEnv("s3.secretAccessKey", "S3_SECRET_ACCESS_KEY")
	_ = v.BindEnv("s3.cloudFrontDomain", "S3_CLOUDFRONT_DOMAIN")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.keyPrefix", "REDIS_KEY_PREFIX")
	_ = v.BindEnv("qr.baseURL", "QR_BASE_URL")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("log.pretty", "LOG_PRETTY")
	_ = v.BindEnv("seed.adminEmail", "SEED_ADMIN_EMAIL")
	_ = v.BindEnv("seed.adminPassword", "SEED_ADMIN_PASSWORD")
}

// LoadConfig reads config.yaml from path, then overrides it with .env and
// environment variables. A missing config file is not an error.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	// .env is optional; real environment variables win over it
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "mongo":
	case "postgres":
		if c.Postgres.ConnString == "" {
			return errors.New("postgres.connString is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.QueryTimeout <= 0 {
		return errors.New("store.queryTimeout must be positive")
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	if c.QR.BaseURL == "" {
		return errors.New("qr.baseURL is required")
	}
	return nil
}
