package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		HttpPort:      8080,
		StorageType:   STORAGE_TYPE_REDIS,
		RedisConfig:   RedisStorageConfig{Addrs: []string{"localhost:6379"}, Namespace: "autoflow"},
		WebhookConfig: WebhookConfig{Secret: "s"},
	}
}

func TestValidate(t *testing.T) {
	for scenario, tc := range map[string]struct {
		mutate func(c *Config)
		valid  bool
	}{
		"valid redis":              {mutate: func(c *Config) {}, valid: true},
		"memory without redis":     {mutate: func(c *Config) { c.StorageType = STORAGE_TYPE_INMEM; c.RedisConfig.Addrs = nil }, valid: true},
		"redis without address":    {mutate: func(c *Config) { c.RedisConfig.Addrs = []string{""} }, valid: false},
		"postgres without dsn":     {mutate: func(c *Config) { c.StorageType = STORAGE_TYPE_POSTGRES }, valid: false},
		"postgres with dsn":        {mutate: func(c *Config) { c.StorageType = STORAGE_TYPE_POSTGRES; c.PostgresConfig.DSN = "postgres://x" }, valid: true},
		"unknown storage":          {mutate: func(c *Config) { c.StorageType = "dynamo" }, valid: false},
		"no secret":                {mutate: func(c *Config) { c.WebhookConfig.Secret = "" }, valid: false},
		"per workflow secret only": {mutate: func(c *Config) { c.WebhookConfig.Secret = ""; c.WebhookConfig.WorkflowSecrets = map[string]string{"wf": "s"} }, valid: true},
		"bad port":                 {mutate: func(c *Config) { c.HttpPort = 0 }, valid: false},
	} {
		t.Run(scenario, func(t *testing.T) {
			c := validConfig()
			tc.mutate(&c)
			err := c.Validate()
			if tc.valid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}
