package config

import (
	"flag"
	"os"
	"strings"

	"github.com/dmitrijs2005/messagelog/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   admin HTTP bind address (e.g., ":8085")
//	-x string   database driver ("pgx" or "sqlite")
//	-d string   database DSN
//	-l string   log level
//	-t string   comma separated TSA URLs, tried in order
//	-i          time-stamp every message right after it is logged
//	-g string   global configuration file
//	-o string   archive output directory
//	-k string   admin token HMAC secret key
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-n string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// Durations and the less common settings are only read from the JSON file.
func parseFlags(config *Config) {
	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.AdminAddr, "a", config.AdminAddr, "admin address and port")
	fs.StringVar(&config.DatabaseDriver, "x", config.DatabaseDriver, "database driver")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	tsaURLs := fs.String("t", strings.Join(config.TSAURLs, ","), "comma separated TSA URLs")
	fs.BoolVar(&config.TimestampImmediately, "i", config.TimestampImmediately, "timestamp immediately")

	fs.StringVar(&config.GlobalConfPath, "g", config.GlobalConfPath, "global configuration file")
	fs.StringVar(&config.ArchivePath, "o", config.ArchivePath, "archive directory")
	fs.StringVar(&config.AdminSecretKey, "k", config.AdminSecretKey, "admin secret key")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "n", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(flagx.FilterArgs(os.Args[1:], fs)); err != nil {
		panic(err)
	}

	config.TSAURLs = splitList(*tsaURLs)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
