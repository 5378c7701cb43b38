package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/JesusCabrera84/siscom-trips/common/config"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Source names accepted in TRIPS_SOURCES
const (
	SourceKafka = "kafka"
	SourceMQTT  = "mqtt"
	SourceRedis = "redis"
)

// Config trips service configuration
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig
	Kafka    config.KafkaConfig

	Trips struct {
		Sources       []string
		MaxInFlight   int
		PayloadFormat string // auto | json | binary

		Stream struct {
			Name          string
			ConsumerGroup string
			ConsumerName  string
			BatchSize     int64
			Block         time.Duration
			ClaimIdle     time.Duration
		}

		Notify struct {
			Enabled bool
			Stream  string
			MaxLen  int64
		}
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads the environment (and an optional .env). Every option has a
// default so the process starts in a bare environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "siscom"
	cfg.Database.Password = "siscom"
	cfg.Database.Database = "siscom_admin"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 50
	cfg.Database.MaxIdle = 10
	cfg.Database.AutoMigrate = true
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "siscom-trips-" + uuid.NewString()
	cfg.MQTT.Topic = "siscom/+/events"
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Kafka.BootstrapServers = "localhost:9092"
	cfg.Kafka.Topic = "siscom-minimal"
	cfg.Kafka.GroupID = "siscom-api-consumer"
	cfg.Kafka.AutoOffsetReset = "latest"
	cfg.Kafka.SASLMechanism = "SCRAM-SHA-256"
	cfg.Kafka.SecurityProtocol = "SASL_PLAINTEXT"
	cfg.Kafka.MaxRetries = 5
	cfg.Kafka.Cooldown = 300 * time.Second
	cfg.Kafka.LoadFromEnv("KAFKA")

	cfg.Trips.Sources = parseSources(getEnv("TRIPS_SOURCES", SourceKafka))
	cfg.Trips.MaxInFlight = getEnvInt("TRIPS_MAX_IN_FLIGHT", 64)
	cfg.Trips.PayloadFormat = strings.ToLower(getEnv("TRIPS_PAYLOAD_FORMAT", "auto"))

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "siscom-trips"
	}
	cfg.Trips.Stream.Name = getEnv("REDIS_SOURCE_STREAM", "siscom:events:stream")
	cfg.Trips.Stream.ConsumerGroup = getEnv("REDIS_CONSUMER_GROUP", "siscom-trips")
	cfg.Trips.Stream.ConsumerName = getEnv("REDIS_CONSUMER_NAME", hostname)
	cfg.Trips.Stream.BatchSize = int64(getEnvInt("REDIS_BATCH_SIZE", 50))
	cfg.Trips.Stream.Block = time.Duration(getEnvInt("REDIS_BLOCK_MS", 5000)) * time.Millisecond
	cfg.Trips.Stream.ClaimIdle = time.Duration(getEnvInt("REDIS_CLAIM_IDLE_MS", 60000)) * time.Millisecond

	cfg.Trips.Notify.Enabled = getEnvBool("TRIPS_NOTIFY_ENABLED", false)
	cfg.Trips.Notify.Stream = getEnv("TRIPS_NOTIFY_STREAM", "trips:lifecycle:stream")
	cfg.Trips.Notify.MaxLen = int64(getEnvInt("TRIPS_NOTIFY_MAXLEN", 100000))

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// SourceEnabled reports whether name is listed in TRIPS_SOURCES
func (c *Config) SourceEnabled(name string) bool {
	for _, s := range c.Trips.Sources {
		if s == name {
			return true
		}
	}
	return false
}

// UsesRedis reports whether any enabled component needs a Redis client
func (c *Config) UsesRedis() bool {
	return c.SourceEnabled(SourceRedis) || c.Trips.Notify.Enabled
}

func parseSources(raw string) []string {
	var sources []string
	seen := map[string]bool{}
	for _, s := range strings.Split(raw, ",") {
		s = strings.ToLower(strings.TrimSpace(s))
		switch s {
		case SourceKafka, SourceMQTT, SourceRedis:
			if !seen[s] {
				seen[s] = true
				sources = append(sources, s)
			}
		}
	}
	if len(sources) == 0 {
		sources = []string{SourceKafka}
	}
	return sources
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil || v <= 0 {
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}
