package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mlodash/autoflow/agent"
	"github.com/mlodash/autoflow/analytics"
	"github.com/mlodash/autoflow/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().String("storage-impl", "memory", "execution storage: memory, redis or postgres")
	cmd.Flags().String("redis-addr", "", "comma separated list of redis host:port, also used for shared rate limits")
	cmd.Flags().String("redis-password", "", "redis password")
	cmd.Flags().Int("redis-pool-size", 0, "redis connection pool size, 0 for the client default")
	cmd.Flags().String("namespace", "autoflow", "namespace used in redis keys")
	cmd.Flags().String("postgres-dsn", "", "postgres connection string")
	cmd.Flags().Int("rate-limit", 120, "webhook requests admitted per window and key")
	cmd.Flags().Int("rate-window-seconds", 60, "rate limit window")
	cmd.Flags().Int("rate-recheck-seconds", 10, "how often a failed shared rate counter is retried")
	cmd.Flags().String("webhook-secret", "", "default webhook signing secret")
	cmd.Flags().Int("webhook-max-skew-seconds", 300, "accepted webhook timestamp skew")
	cmd.Flags().Int64("max-body-bytes", 256*1024, "maximum webhook payload size")
	cmd.Flags().Int("workers", 8, "concurrent execution runners")
	cmd.Flags().Int("queue-size", 1024, "pending runner queue capacity")
	cmd.Flags().Int("sweep-interval-seconds", 30, "interval for resubmitting stuck executions")
	cmd.Flags().Bool("recover-running", true, "resume RUNNING executions after a restart")
	cmd.Flags().String("definitions-file", "", "YAML file with workflow definitions loaded at startup")
	cmd.Flags().String("operator-tokens", "", "comma separated actor:token pairs for the operator api")
	cmd.Flags().String("log-level", "info", "log level")
	cmd.Flags().Bool("log-development", false, "human readable console logs")
	cmd.Flags().String("analytics-file", "", "file receiving step and execution analytics, empty to disable")
	cmd.Flags().Int("metrics-period-seconds", 60, "metrics log export period, 0 to disable")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetEnvPrefix("AUTOFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err = viper.ReadInConfig(); err != nil {
			// it's ok if config file doesn't exist
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return err
			}
		}
	}

	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.RedisConfig.Addrs = splitList(viper.GetString("redis-addr"))
	c.cfg.RedisConfig.Password = viper.GetString("redis-password")
	c.cfg.RedisConfig.PoolSize = viper.GetInt("redis-pool-size")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.PostgresConfig.DSN = viper.GetString("postgres-dsn")
	c.cfg.RateLimitConfig.Limit = viper.GetInt("rate-limit")
	c.cfg.RateLimitConfig.Window = seconds("rate-window-seconds")
	c.cfg.RateLimitConfig.RecheckInterval = seconds("rate-recheck-seconds")
	c.cfg.WebhookConfig.Secret = viper.GetString("webhook-secret")
	c.cfg.WebhookConfig.WorkflowSecrets = viper.GetStringMapString("workflow-secrets")
	c.cfg.WebhookConfig.MaxSkew = seconds("webhook-max-skew-seconds")
	c.cfg.WebhookConfig.MaxBodyBytes = viper.GetInt64("max-body-bytes")
	c.cfg.EngineConfig.Workers = viper.GetInt("workers")
	c.cfg.EngineConfig.QueueSize = viper.GetInt("queue-size")
	c.cfg.EngineConfig.SweepInterval = seconds("sweep-interval-seconds")
	c.cfg.EngineConfig.RecoverRunning = viper.GetBool("recover-running")
	c.cfg.DefinitionsFile = viper.GetString("definitions-file")
	c.cfg.OperatorTokens = splitList(viper.GetString("operator-tokens"))
	c.cfg.LogConfig.Level = viper.GetString("log-level")
	c.cfg.LogConfig.Development = viper.GetBool("log-development")
	c.cfg.MetricsPeriod = seconds("metrics-period-seconds")
	if file := viper.GetString("analytics-file"); file != "" {
		c.cfg.AnalyticsConfig = analytics.DataCollectorConfig{FileName: file, CollectorType: analytics.LOG_FILE_DATA_COLLECTOR}
	} else {
		c.cfg.AnalyticsConfig = analytics.DataCollectorConfig{CollectorType: analytics.NOOP_DATA_COLLECTOR}
	}
	return c.cfg.Validate()
}

func seconds(key string) time.Duration {
	return time.Duration(viper.GetInt(key)) * time.Second
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

func (c *cli) run(cmd *cobra.Command, args []string) error {
	agent, err := agent.New(c.cfg.Config)
	if err != nil {
		return err
	}
	if err = agent.Start(); err != nil {
		return err
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-agent.Done():
	}
	return agent.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "autoflow",
		Short:   "webhook driven workflow automation for the loan pipeline",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
