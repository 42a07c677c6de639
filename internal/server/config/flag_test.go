package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {

	tests := []struct {
		expected    func(c *Config)
		name        string
		args        []string
		expectPanic bool
	}{
		{
			name: "all flags",
			args: []string{
				"-a", "127.0.0.1:9090", "-d", "db", "-r", "redis:6379", "-s", "secret", "-k", "filekey",
				"-t", "5", "-b", "bucket", "-w", "bucket,other", "-l", "/tmp/app.log", "-p", "-m",
			},
			expected: func(c *Config) {
				c.EndpointAddrHTTP = "127.0.0.1:9090"
				c.DatabaseDSN = "db"
				c.RedisAddr = "redis:6379"
				c.SecretKey = "secret"
				c.FileEncryptionKey = "filekey"
				c.DefaultTaskTimeout = 5 * time.Minute
				c.S3Bucket = "bucket"
				c.AllowedBuckets = []string{"bucket", "other"}
				c.LogFile = "/tmp/app.log"
				c.PrivateInstance = true
				c.RunMigrations = true
			},
		},
		{
			name:     "foreign flags are ignored",
			args:     []string{"-c", "conf.json", "-x", "1"},
			expected: func(c *Config) {},
		},
		{
			name:        "bad int panics",
			args:        []string{"-t", "soon"},
			expectPanic: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{}
			config.LoadDefaults()

			if tt.expectPanic {
				require.Panics(t, func() { parseFlags(config, tt.args) })
				return
			}

			want := &Config{}
			want.LoadDefaults()
			tt.expected(want)

			require.NotPanics(t, func() { parseFlags(config, tt.args) })
			assert.Empty(t, cmp.Diff(want, config))
		})
	}
}
