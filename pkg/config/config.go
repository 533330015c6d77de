package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Market       MarketConfig
	Mesh         MeshConfig
	Idempotency  IdempotencyConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"NFTSALE_APP_ENV" required:"true"`
	Port         string `envconfig:"NFTSALE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"NFTSALE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"NFTSALE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"NFTSALE_DB_DSN"`
	Driver string `envconfig:"NFTSALE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"NFTSALE_DB_HOST"`
	LegacyPort     int    `envconfig:"NFTSALE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"NFTSALE_DB_USER"`
	LegacyPassword string `envconfig:"NFTSALE_DB_PASSWORD"`
	LegacyName     string `envconfig:"NFTSALE_DB_NAME"`
	LegacySSLMode  string `envconfig:"NFTSALE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"NFTSALE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"NFTSALE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"NFTSALE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"NFTSALE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"NFTSALE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"NFTSALE_REDIS_ADDR"`
	Password     string        `envconfig:"NFTSALE_REDIS_PASSWORD"`
	DB           int           `envconfig:"NFTSALE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"NFTSALE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"NFTSALE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"NFTSALE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"NFTSALE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"NFTSALE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"NFTSALE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"NFTSALE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"NFTSALE_JWT_EXPIRATION_MINUTES" required:"true"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"NFTSALE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"NFTSALE_AUTO_MIGRATE" default:"false"`
}

// MarketConfig identifies the coordinator account the service runs as. The
// derivation in pkg/identity keys off this account's network suffix.
type MarketConfig struct {
	RootAccount string `envconfig:"NFTSALE_MARKET_ROOT_ACCOUNT" required:"true"`
}

type MeshConfig struct {
	ShutdownTimeout time.Duration `envconfig:"NFTSALE_MESH_SHUTDOWN_TIMEOUT" default:"10s"`
}

type IdempotencyConfig struct {
	TTL time.Duration `envconfig:"NFTSALE_IDEMPOTENCY_TTL" default:"24h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
