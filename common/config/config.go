package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int
	MaxIdle     int
	AutoMigrate bool
}

// RedisConfig Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT broker settings
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// KafkaConfig Kafka consumer settings
type KafkaConfig struct {
	BootstrapServers string
	Topic            string
	GroupID          string
	AutoOffsetReset  string // earliest | latest
	SASLMechanism    string // SCRAM-SHA-256 | SCRAM-SHA-512 | PLAIN
	Username         string
	Password         string
	SecurityProtocol string // PLAINTEXT | SASL_PLAINTEXT | SASL_SSL | SSL
	MaxRetries       int
	Cooldown         time.Duration
}

// GetDSN returns the lib/pq connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// LoadFromEnv overrides fields from PREFIX_* variables
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	if host := os.Getenv(prefix + "_HOST"); host != "" {
		c.Host = host
	}
	if port := os.Getenv(prefix + "_PORT"); port != "" {
		c.Port = parseInt(port, c.Port)
	}
	if user := os.Getenv(prefix + "_USER"); user != "" {
		c.User = user
	}
	// DB_PWD is the name used by the deployment manifests, DB_PASSWORD wins when both are set
	if password := os.Getenv(prefix + "_PWD"); password != "" {
		c.Password = password
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		c.Password = password
	}
	if database := os.Getenv(prefix + "_DATABASE"); database != "" {
		c.Database = database
	}
	if database := os.Getenv(prefix + "_NAME"); database != "" {
		c.Database = database
	}
	if sslMode := os.Getenv(prefix + "_SSLMODE"); sslMode != "" {
		c.SSLMode = sslMode
	}
	if maxConns := os.Getenv(prefix + "_MAX_CONNS"); maxConns != "" {
		c.MaxConns = parseInt(maxConns, c.MaxConns)
	}
	if maxIdle := os.Getenv(prefix + "_MAX_IDLE"); maxIdle != "" {
		c.MaxIdle = parseInt(maxIdle, c.MaxIdle)
	}
	if migrate := os.Getenv(prefix + "_AUTO_MIGRATE"); migrate != "" {
		c.AutoMigrate = parseBool(migrate, c.AutoMigrate)
	}
}

// LoadFromEnv overrides fields from PREFIX_* variables
func (c *RedisConfig) LoadFromEnv(prefix string) {
	if addr := os.Getenv(prefix + "_ADDR"); addr != "" {
		c.Addr = addr
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		c.Password = password
	}
	if db := os.Getenv(prefix + "_DB"); db != "" {
		c.DB = parseInt(db, c.DB)
	}
}

// LoadFromEnv overrides fields from PREFIX_* variables
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	if broker := os.Getenv(prefix + "_BROKER"); broker != "" {
		c.Broker = broker
	}
	if clientID := os.Getenv(prefix + "_CLIENT_ID"); clientID != "" {
		c.ClientID = clientID
	}
	if username := os.Getenv(prefix + "_USERNAME"); username != "" {
		c.Username = username
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		c.Password = password
	}
	if topic := os.Getenv(prefix + "_TOPIC"); topic != "" {
		c.Topic = topic
	}
	if qos := os.Getenv(prefix + "_QOS"); qos != "" {
		if v := parseInt(qos, int(c.QoS)); v >= 0 && v <= 2 {
			c.QoS = byte(v)
		}
	}
}

// LoadFromEnv overrides fields from PREFIX_* variables
func (c *KafkaConfig) LoadFromEnv(prefix string) {
	if servers := os.Getenv(prefix + "_BOOTSTRAP_SERVERS"); servers != "" {
		c.BootstrapServers = servers
	}
	if topic := os.Getenv(prefix + "_TOPIC"); topic != "" {
		c.Topic = topic
	}
	if groupID := os.Getenv(prefix + "_GROUP_ID"); groupID != "" {
		c.GroupID = groupID
	}
	if reset := os.Getenv(prefix + "_AUTO_OFFSET_RESET"); reset != "" {
		c.AutoOffsetReset = reset
	}
	if mechanism := os.Getenv(prefix + "_SASL_MECHANISM"); mechanism != "" {
		c.SASLMechanism = mechanism
	}
	if username := os.Getenv(prefix + "_USERNAME"); username != "" {
		c.Username = username
	}
	if password := os.Getenv(prefix + "_PASSWORD"); password != "" {
		c.Password = password
	}
	if protocol := os.Getenv(prefix + "_SECURITY_PROTOCOL"); protocol != "" {
		c.SecurityProtocol = protocol
	}
	if retries := os.Getenv(prefix + "_MAX_RETRIES"); retries != "" {
		c.MaxRetries = parseInt(retries, c.MaxRetries)
	}
	if cooldown := os.Getenv(prefix + "_CIRCUIT_BREAKER_COOLDOWN"); cooldown != "" {
		c.Cooldown = time.Duration(parseInt(cooldown, int(c.Cooldown/time.Second))) * time.Second
	}
}

func parseInt(s string, fallback int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func parseBool(s string, fallback bool) bool {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return v
}
