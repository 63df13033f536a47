package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var envLookup = os.LookupEnv

// loadDotEnv copies .env entries into the process environment without
// overriding variables that are already set. A missing file is fine.
func loadDotEnv() {
	_ = godotenv.Load()
}

// parseEnv overlays variables that are present. Malformed numbers and
// booleans panic, like malformed flags.
func parseEnv(c *Config, lookup func(string) (string, bool)) {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				panic(err)
			}
			*dst = n
		}
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		c.HTTPAddr = ":" + v
	}
	str("HTTP_ADDR", &c.HTTPAddr)
	str("GRPC_ADDR", &c.GRPCAddr)
	str("WS_PATH", &c.WSPath)
	str("DATABASE_URL", &c.DatabaseDSN)
	str("CODETIME_CONCURRENCY_POLICY", &c.Policy)
	str("TZ_NAME", &c.Timezone)
	num("RATE_HTTP_PER_MIN", &c.RateHTTPPerMin)
	num("RATE_WS_PER_MIN", &c.RateWSPerMin)
	str("TOKEN_PEPPER", &c.TokenPepper)
	str("SESSION_SECRET", &c.SessionSecret)
	str("SENTRY_DSN", &c.SentryDSN)
	str("APP_ENV", &c.AppEnv)
	str("LOG_LEVEL", &c.LogLevel)
	str("S3_ROOT_USER", &c.S3RootUser)
	str("S3_ROOT_PASSWORD", &c.S3RootPassword)
	str("S3_BUCKET", &c.S3Bucket)
	str("S3_REGION", &c.S3Region)
	str("S3_BASE_ENDPOINT", &c.S3BaseEndpoint)

	if v, ok := lookup("DEV_TOKEN_AUTO"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			panic(err)
		}
		c.DevTokenAuto = b
	}

	var ttl int
	num("SESSION_TTL_MINUTES", &ttl)
	if ttl > 0 {
		c.SessionTTL = time.Duration(ttl) * time.Minute
	}

	if v, ok := lookup("HEARTBEAT_MAX_SKEW"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			panic(err)
		}
		c.HeartbeatMaxSkew = d
	}
}
