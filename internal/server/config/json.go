package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/codetime/internal/flagx"
	"github.com/dmitrijs2005/codetime/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations accept
// "90s" strings or integer nanoseconds.
type JsonConfig struct {
	HTTPAddr         string         `json:"http_addr"`
	GRPCAddr         string         `json:"grpc_addr"`
	WSPath           string         `json:"ws_path"`
	DatabaseDSN      string         `json:"database_dsn"`
	Policy           string         `json:"concurrency_policy"`
	Timezone         string         `json:"timezone"`
	RateHTTPPerMin   *int           `json:"rate_http_per_min"`
	RateWSPerMin     *int           `json:"rate_ws_per_min"`
	TokenPepper      string         `json:"token_pepper"`
	DevTokenAuto     *bool          `json:"dev_token_auto"`
	SessionSecret    string         `json:"session_secret"`
	SessionTTL       timex.Duration `json:"session_ttl"`
	HeartbeatMaxSkew timex.Duration `json:"heartbeat_max_skew"`
	SentryDSN        string         `json:"sentry_dsn"`
	AppEnv           string         `json:"app_env"`
	LogLevel         string         `json:"log_level"`
	S3RootUser       string         `json:"s3_root_user"`
	S3RootPassword   string         `json:"s3_root_password"`
	S3Bucket         string         `json:"s3_bucket"`
	S3Region         string         `json:"s3_region"`
	S3BaseEndpoint   string         `json:"s3_base_endpoint"`
}

// parseJson overlays values from the file named by -c/-config (or
// $CODETIME_CONFIG). Keys that are absent keep their current value.
// An unreadable file or invalid JSON panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigPath()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	set(&config.HTTPAddr, c.HTTPAddr)
	set(&config.GRPCAddr, c.GRPCAddr)
	set(&config.WSPath, c.WSPath)
	set(&config.DatabaseDSN, c.DatabaseDSN)
	set(&config.Policy, c.Policy)
	set(&config.Timezone, c.Timezone)
	set(&config.TokenPepper, c.TokenPepper)
	set(&config.SessionSecret, c.SessionSecret)
	set(&config.SentryDSN, c.SentryDSN)
	set(&config.AppEnv, c.AppEnv)
	set(&config.LogLevel, c.LogLevel)
	set(&config.S3RootUser, c.S3RootUser)
	set(&config.S3RootPassword, c.S3RootPassword)
	set(&config.S3Bucket, c.S3Bucket)
	set(&config.S3Region, c.S3Region)
	set(&config.S3BaseEndpoint, c.S3BaseEndpoint)

	if c.RateHTTPPerMin != nil {
		config.RateHTTPPerMin = *c.RateHTTPPerMin
	}
	if c.RateWSPerMin != nil {
		config.RateWSPerMin = *c.RateWSPerMin
	}
	if c.DevTokenAuto != nil {
		config.DevTokenAuto = *c.DevTokenAuto
	}
	if c.SessionTTL.Duration > 0 {
		config.SessionTTL = time.Duration(c.SessionTTL.Duration)
	}
	if c.HeartbeatMaxSkew.Duration > 0 {
		config.HeartbeatMaxSkew = time.Duration(c.HeartbeatMaxSkew.Duration)
	}
}
