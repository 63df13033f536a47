// Package config handles configuration for the ledger server: defaults,
// then .env and process environment, then an optional JSON file, then
// command-line flags. Later layers win.
package config

import "time"

// Config holds runtime settings for the server.
//
// Fields:
//   - HTTPAddr / GRPCAddr: bind addresses; an empty GRPCAddr disables gRPC.
//   - WSPath: route of the heartbeat websocket endpoint.
//   - DatabaseDSN: PostgreSQL DSN (pgx). Empty selects the in-memory backend.
//   - Policy: "exclusive" or "allow-multi".
//   - Timezone: IANA name used for day boundaries; "" or "Local" means the host zone.
//   - RateHTTPPerMin / RateWSPerMin: fixed-window ceilings per key; 0 disables.
//   - TokenPepper: appended to bearer tokens before hashing.
//   - DevTokenAuto: create a user for unknown credentials. Development only.
//   - SessionSecret / SessionTTL: HMAC key and lifetime of dashboard sessions.
//   - HeartbeatMaxSkew: how far in the future a client timestamp may be.
//   - SentryDSN / AppEnv: error reporting.
//   - S3*: destination of daily usage exports.
type Config struct {
	HTTPAddr         string
	GRPCAddr         string
	WSPath           string
	DatabaseDSN      string
	Policy           string
	Timezone         string
	RateHTTPPerMin   int
	RateWSPerMin     int
	TokenPepper      string
	DevTokenAuto     bool
	SessionSecret    string
	SessionTTL       time.Duration
	HeartbeatMaxSkew time.Duration
	SentryDSN        string
	AppEnv           string
	LogLevel         string
	S3RootUser       string
	S3RootPassword   string
	S3Bucket         string
	S3Region         string
	S3BaseEndpoint   string
}

// DefaultSessionSecret is the development session key. The server refuses
// it when a database is configured.
const DefaultSessionSecret = "secretKey"

// LoadDefaults populates Config with development defaults.
// NOTE: SessionSecret and the S3 credentials must be overridden in production.
func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":3000"
	c.GRPCAddr = ""
	c.WSPath = "/ws"
	c.DatabaseDSN = ""
	c.Policy = "exclusive"
	c.Timezone = "Local"
	c.RateHTTPPerMin = 1200
	c.RateWSPerMin = 120
	c.SessionSecret = DefaultSessionSecret
	c.SessionTTL = 60 * time.Minute
	c.HeartbeatMaxSkew = 10 * time.Minute
	c.AppEnv = "development"
	c.LogLevel = "info"
	c.S3RootUser = "admin"
	c.S3RootPassword = "secretpassword"
	c.S3Bucket = "codetime-exports"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
}

// LoadConfig builds a Config by applying defaults, then overlaying the
// environment, an optional JSON file and finally command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	loadDotEnv()
	parseEnv(cfg, envLookup)
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}

// LoadEnvConfig is LoadConfig without the flag layer, for tools that own
// their command line. The JSON file is still found via -c or $CODETIME_CONFIG.
func LoadEnvConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	loadDotEnv()
	parseEnv(cfg, envLookup)
	parseJson(cfg)
	return cfg
}
