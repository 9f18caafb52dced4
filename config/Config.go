package config

import (
	"time"

	"github.com/tahanlog/gastoflow/external/ai"
	"github.com/tahanlog/gastoflow/external/odoo"
	"github.com/tahanlog/gastoflow/external/transcribe"
	"github.com/tahanlog/gastoflow/persistence/postgres"
	"github.com/tahanlog/gastoflow/persistence/redis"
)

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"

type Config struct {
	RedisConfig      redis.Config
	PostgresConfig   postgres.Config
	HttpPort         int
	StorageType      StorageType
	BatchSize        int
	WorkerCount      int
	PollInterval     time.Duration
	RetryInterval    time.Duration
	AiConfig         ai.Config
	TranscribeConfig transcribe.Config
	OdooConfig       odoo.Config
}
