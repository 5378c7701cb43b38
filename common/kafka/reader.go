package kafka

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/JesusCabrera84/siscom-trips/common/config"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

// NewReader builds a consumer-group reader. Offsets are committed
// asynchronously every second, like librdkafka's auto commit.
func NewReader(cfg *config.KafkaConfig) (*kafka.Reader, error) {
	dialer, err := newDialer(cfg)
	if err != nil {
		return nil, err
	}

	startOffset := kafka.LastOffset
	if strings.EqualFold(cfg.AutoOffsetReset, "earliest") {
		startOffset = kafka.FirstOffset
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        splitBrokers(cfg.BootstrapServers),
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		Dialer:         dialer,
		StartOffset:    startOffset,
		CommitInterval: time.Second,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
	})

	return reader, nil
}

func newDialer(cfg *config.KafkaConfig) (*kafka.Dialer, error) {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	protocol := strings.ToUpper(cfg.SecurityProtocol)

	if strings.HasPrefix(protocol, "SASL") && cfg.Username != "" {
		mechanism, err := saslMechanism(cfg)
		if err != nil {
			return nil, err
		}
		dialer.SASLMechanism = mechanism
	}

	if protocol == "SASL_SSL" || protocol == "SSL" {
		dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return dialer, nil
}

func saslMechanism(cfg *config.KafkaConfig) (sasl.Mechanism, error) {
	switch strings.ToUpper(cfg.SASLMechanism) {
	case "SCRAM-SHA-256", "":
		return scram.Mechanism(scram.SHA256, cfg.Username, cfg.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, cfg.Username, cfg.Password)
	case "PLAIN":
		return plain.Mechanism{Username: cfg.Username, Password: cfg.Password}, nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", cfg.SASLMechanism)
	}
}

func splitBrokers(servers string) []string {
	var brokers []string
	for _, b := range strings.Split(servers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
