package config

// EnvPrefix is passed to envconfig.Process; individual fields carry explicit
// envconfig tags, so the prefix stays empty.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "production"
)

const (
	EnvAppEnv     = "NFTSALE_APP_ENV"
	EnvPort       = "NFTSALE_APP_PORT"
	EnvDBDSN      = "NFTSALE_DB_DSN"
	EnvDBHost     = "NFTSALE_DB_HOST"
	EnvDBUser     = "NFTSALE_DB_USER"
	EnvDBName     = "NFTSALE_DB_NAME"
	EnvRedisURL   = "NFTSALE_REDIS_URL"
	EnvJWTSecret  = "NFTSALE_JWT_SECRET"
	EnvJWTIssuer  = "NFTSALE_JWT_ISSUER"
	EnvJWTExpMins = "NFTSALE_JWT_EXPIRATION_MINUTES"
	EnvMarketRoot = "NFTSALE_MARKET_ROOT_ACCOUNT"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
