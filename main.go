package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tahanlog/gastoflow/agent"
	"github.com/tahanlog/gastoflow/config"
)

type cli struct {
	cfg config.Config
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("namespace", "gastoflow", "namespace used in storage")
	cmd.Flags().Int("partitions", 8, "task queue partition count")
	cmd.Flags().String("postgres-dsn", "", "postgres connection string for the boleta store")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().String("storage-impl", "redis", "implementation of underline storage")
	cmd.Flags().Int("batch-size", 10, "task poll batch size")
	cmd.Flags().Int("worker-count", 4, "task worker concurrency")
	cmd.Flags().Duration("poll-interval", 100*time.Millisecond, "task queue poll interval")
	cmd.Flags().Duration("retry-interval", 500*time.Millisecond, "retry queue poll interval")
	cmd.Flags().String("ai-url", "", "receipt classifier service url")
	cmd.Flags().String("transcribe-url", "", "speech to text service url")
	cmd.Flags().String("odoo-url", "", "accounting system url")
	cmd.Flags().String("odoo-db", "", "accounting system database")
	cmd.Flags().String("odoo-username", "", "accounting system username")
	cmd.Flags().String("odoo-password", "", "accounting system password")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.RedisConfig.Partitions = viper.GetInt("partitions")
	c.cfg.PostgresConfig.DSN = viper.GetString("postgres-dsn")
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.BatchSize = viper.GetInt("batch-size")
	c.cfg.WorkerCount = viper.GetInt("worker-count")
	c.cfg.PollInterval = viper.GetDuration("poll-interval")
	c.cfg.RetryInterval = viper.GetDuration("retry-interval")
	c.cfg.AiConfig.Url = viper.GetString("ai-url")
	c.cfg.TranscribeConfig.Url = viper.GetString("transcribe-url")
	c.cfg.OdooConfig.Url = viper.GetString("odoo-url")
	c.cfg.OdooConfig.Database = viper.GetString("odoo-db")
	c.cfg.OdooConfig.Username = viper.GetString("odoo-username")
	c.cfg.OdooConfig.Password = viper.GetString("odoo-password")
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	agent, err := agent.New(c.cfg)
	if err != nil {
		panic(err)
	}
	err = agent.Start()
	if err != nil {
		panic(err)
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return agent.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "gastoflow",
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
