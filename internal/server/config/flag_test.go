package config

import (
	"flag"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{name: "all flags", args: []string{"cmd",
			"-a", "127.0.0.1:9090", "-x", "sqlite", "-d", "db", "-l", "debug",
			"-t", "http://tsa1, http://tsa2", "-i",
			"-g", "/etc/gc.json", "-o", "/tmp/archive", "-k", "secret",
			"-u", "user", "-p", "password", "-b", "bucket", "-n", "us-west-1", "-e", "http://endpoint",
		}, expected: &Config{
			AdminAddr:            "127.0.0.1:9090",
			DatabaseDriver:       "sqlite",
			DatabaseDSN:          "db",
			LogLevel:             "debug",
			TSAURLs:              []string{"http://tsa1", "http://tsa2"},
			TimestampImmediately: true,
			GlobalConfPath:       "/etc/gc.json",
			ArchivePath:          "/tmp/archive",
			AdminSecretKey:       "secret",
			S3RootUser:           "user",
			S3RootPassword:       "password",
			S3Bucket:             "bucket",
			S3Region:             "us-west-1",
			S3BaseEndpoint:       "http://endpoint",
		}},
		{name: "foreign flags ignored", args: []string{"cmd", "-c", "conf.json", "-z", "1", "-d", "db"},
			expected: &Config{DatabaseDSN: "db"}},
		{name: "bad bool", args: []string{"cmd", "-i=maybe"}, expectPanic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.PanicOnError)

			os.Args = tt.args

			config := &Config{}

			if !tt.expectPanic {
				require.NotPanics(t, func() { parseFlags(config) })
				assert.Empty(t, cmp.Diff(config, tt.expected))
			} else {
				require.Panics(t, func() { parseFlags(config) })
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList(" a ,, b,"))
}
