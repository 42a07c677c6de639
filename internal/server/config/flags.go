package config

import (
	"flag"
	"time"

	"github.com/dmitrijs2005/taskvault/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-r string   redis address
//	-s string   token signing secret
//	-k string   shared file encryption key
//	-t int      default task timeout, minutes
//	-b string   default S3 bucket
//	-w string   comma-separated allow-listed buckets
//	-p bool     private instance
//	-l string   log file
//	-m bool     apply bundled migrations
//
// Connection profiles and field lists beyond the bucket allow-list are
// only configurable through the JSON file.
func parseFlags(config *Config, args []string) {
	args = flagx.FilterArgs(args, []string{"-a", "-d", "-r", "-s", "-k", "-t", "-b", "-w", "-p", "-l", "-m"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.FileEncryptionKey, "k", config.FileEncryptionKey, "file encryption key")

	taskTimeout := fs.Int("t", int(config.DefaultTaskTimeout.Minutes()), "default task timeout (in minutes)")

	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "default S3 bucket")

	buckets := flagx.StringList(config.AllowedBuckets)
	fs.Var(&buckets, "w", "allow-listed buckets, comma separated")

	fs.BoolVar(&config.PrivateInstance, "p", config.PrivateInstance, "private instance")
	fs.StringVar(&config.LogFile, "l", config.LogFile, "log file")
	fs.BoolVar(&config.RunMigrations, "m", config.RunMigrations, "apply bundled migrations")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.DefaultTaskTimeout = time.Duration(*taskTimeout) * time.Minute
	config.AllowedBuckets = []string(buckets)
}
