package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/codetime/internal/flagx"
)

// parseFlags populates Config fields from command-line flags.
//
// Supported flags:
//
//	-a string   HTTP bind address (e.g., ":3000")
//	-g string   gRPC bind address, empty disables
//	-w string   websocket path
//	-d string   PostgreSQL DSN
//	-p string   concurrency policy (exclusive | allow-multi)
//	-z string   timezone for day boundaries
//	-rh int     HTTP requests per minute per key
//	-rw int     heartbeats per minute per user
//	-k string   token pepper
//	-auto       auto-provision unknown credentials
//	-s string   session HMAC secret
//	-t int      session lifetime, minutes
//	-l string   log level
//
// os.Args is filtered first so flags owned by other components are ignored.
func parseFlags(config *Config) {
	args := flagx.Filter(os.Args[1:],
		[]string{"-a", "-g", "-w", "-d", "-p", "-z", "-rh", "-rw", "-k", "-s", "-t", "-l"},
		[]string{"-auto"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "HTTP address and port")
	fs.StringVar(&config.GRPCAddr, "g", config.GRPCAddr, "gRPC address and port")
	fs.StringVar(&config.WSPath, "w", config.WSPath, "websocket path")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.Policy, "p", config.Policy, "concurrency policy")
	fs.StringVar(&config.Timezone, "z", config.Timezone, "timezone")
	fs.IntVar(&config.RateHTTPPerMin, "rh", config.RateHTTPPerMin, "HTTP requests per minute")
	fs.IntVar(&config.RateWSPerMin, "rw", config.RateWSPerMin, "heartbeats per minute")
	fs.StringVar(&config.TokenPepper, "k", config.TokenPepper, "token pepper")
	fs.BoolVar(&config.DevTokenAuto, "auto", config.DevTokenAuto, "auto-provision unknown tokens")
	fs.StringVar(&config.SessionSecret, "s", config.SessionSecret, "session secret key")
	sessionTTL := fs.Int("t", int(config.SessionTTL.Minutes()), "session validity (in minutes)")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.SessionTTL = time.Duration(*sessionTTL) * time.Minute
}
