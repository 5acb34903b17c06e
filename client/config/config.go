package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/spf13/viper"

	"github.com/lidofinance/tssd/storage/kafka_storage"
)

const (
	EnvPrefix = "TSSD"

	QueueBackendKafka = "kafka"
	QueueBackendFile  = "file"

	defaultJoinTimeout       = 30 * time.Second
	defaultRoundTimeout      = 5 * time.Minute
	defaultMaxConcurrentJobs = 8
	defaultKafkaTimeout      = 10 * time.Second
	defaultPollInterval      = 200 * time.Millisecond
)

type RelayConfig struct {
	Address      string        `mapstructure:"address"`
	JoinTimeout  time.Duration `mapstructure:"join_timeout"`
	RoundTimeout time.Duration `mapstructure:"round_timeout"`
}

// PartyConfig describes this node's seat in the signing group.
type PartyConfig struct {
	Index     uint16 `mapstructure:"index"`
	Threshold uint16 `mapstructure:"threshold"`
	Parties   uint16 `mapstructure:"parties"`
	// Signers are the key indices that sign when a job names none. All
	// parties by default.
	Signers []uint16 `mapstructure:"signers"`
}

type QueueConfig struct {
	Backend         string        `mapstructure:"backend"`
	SignTopic       string        `mapstructure:"sign_topic"`
	KeygenTopic     string        `mapstructure:"keygen_topic"`
	SettlementTopic string        `mapstructure:"settlement_topic"`
	ConsumerGroup   string        `mapstructure:"consumer_group"`
	FileDir         string        `mapstructure:"file_dir"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
}

type KafkaConfig struct {
	Brokers             []string      `mapstructure:"brokers"`
	TLS                 bool          `mapstructure:"tls"`
	TrustStorePath      string        `mapstructure:"truststore_path"`
	ProducerCredentials string        `mapstructure:"producer_credentials"`
	ConsumerCredentials string        `mapstructure:"consumer_credentials"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

// HttpApiConfig configures the read-only operator API. It is disabled when
// ListenAddr is empty.
type HttpApiConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

type DispatcherConfig struct {
	MaxConcurrentJobs int64 `mapstructure:"max_concurrent_jobs"`
}

type Config struct {
	Username      string `mapstructure:"username"`
	DataDir       string `mapstructure:"data_dir"`
	StateDBDSN    string `mapstructure:"state_dbdsn"`
	KeyStoreDBDSN string `mapstructure:"key_store_dbdsn"`
	Mnemonic      string `mapstructure:"mnemonic"`
	LogLevel      string `mapstructure:"log_level"`
	LogJSON       bool   `mapstructure:"log_json"`

	Relay      RelayConfig      `mapstructure:"relay"`
	Party      PartyConfig      `mapstructure:"party"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	HttpApi    HttpApiConfig    `mapstructure:"http_api"`
}

// SetDefaults registers every key, so that environment variables are seen
// by Unmarshal even when the config file does not mention them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("username", "tssd")
	v.SetDefault("data_dir", "./tssd_data")
	v.SetDefault("state_dbdsn", "./tssd_data/state")
	v.SetDefault("key_store_dbdsn", "./tssd_data/key_store")
	v.SetDefault("mnemonic", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	v.SetDefault("relay.address", "")
	v.SetDefault("relay.join_timeout", defaultJoinTimeout)
	v.SetDefault("relay.round_timeout", defaultRoundTimeout)

	v.SetDefault("party.index", 0)
	v.SetDefault("party.threshold", 0)
	v.SetDefault("party.parties", 0)
	v.SetDefault("party.signers", []uint16{})

	v.SetDefault("queue.backend", QueueBackendKafka)
	v.SetDefault("queue.sign_topic", "sign_signals")
	v.SetDefault("queue.keygen_topic", "keygen_signals")
	v.SetDefault("queue.settlement_topic", "settlements")
	v.SetDefault("queue.consumer_group", "")
	v.SetDefault("queue.file_dir", "./tssd_data/queues")
	v.SetDefault("queue.poll_interval", defaultPollInterval)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.tls", false)
	v.SetDefault("kafka.truststore_path", "")
	v.SetDefault("kafka.producer_credentials", "")
	v.SetDefault("kafka.consumer_credentials", "")
	v.SetDefault("kafka.timeout", defaultKafkaTimeout)

	v.SetDefault("dispatcher.max_concurrent_jobs", defaultMaxConcurrentJobs)

	v.SetDefault("http_api.listen_addr", "")
}

// Load reads configFile (optional), TSSD_* environment variables and any
// flags already bound to v.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if len(cfg.Party.Signers) == 0 {
		for i := uint16(1); i <= cfg.Party.Parties; i++ {
			cfg.Party.Signers = append(cfg.Party.Signers, i)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Relay.Address == "" {
		return errors.New("relay.address is required")
	}
	if c.Relay.JoinTimeout <= 0 || c.Relay.RoundTimeout <= 0 {
		return errors.New("relay timeouts must be positive")
	}
	if c.Mnemonic == "" {
		return errors.New("mnemonic is required to seal key shares")
	}

	if err := c.Party.Validate(); err != nil {
		return err
	}

	switch c.Queue.Backend {
	case QueueBackendKafka:
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers is required for the kafka queue backend")
		}
		if c.Queue.ConsumerGroup == "" {
			return errors.New("queue.consumer_group is required for the kafka queue backend")
		}
	case QueueBackendFile:
		if c.Queue.FileDir == "" {
			return errors.New("queue.file_dir is required for the file queue backend")
		}
	default:
		return fmt.Errorf("unknown queue backend %q", c.Queue.Backend)
	}
	if c.Queue.SignTopic == "" || c.Queue.KeygenTopic == "" || c.Queue.SettlementTopic == "" {
		return errors.New("queue topics are required")
	}

	if c.Dispatcher.MaxConcurrentJobs < 1 {
		return fmt.Errorf("dispatcher.max_concurrent_jobs must be positive, got %d", c.Dispatcher.MaxConcurrentJobs)
	}

	return nil
}

func (p PartyConfig) Validate() error {
	if p.Threshold < 1 || p.Threshold >= p.Parties {
		return fmt.Errorf("party.threshold must be in [1, %d), got %d", p.Parties, p.Threshold)
	}
	if p.Index < 1 || p.Index > p.Parties {
		return fmt.Errorf("party.index must be in [1, %d], got %d", p.Parties, p.Index)
	}
	if len(p.Signers) < int(p.Threshold)+1 {
		return fmt.Errorf("at least %d signers required, got %d", p.Threshold+1, len(p.Signers))
	}

	own := false
	seen := make(map[uint16]struct{}, len(p.Signers))
	for _, s := range p.Signers {
		if s < 1 || s > p.Parties {
			return fmt.Errorf("signer %d is outside of %d parties", s, p.Parties)
		}
		if _, ok := seen[s]; ok {
			return fmt.Errorf("duplicate signer %d", s)
		}
		seen[s] = struct{}{}
		if s == p.Index {
			own = true
		}
	}
	if !own {
		return fmt.Errorf("party %d is not among the signers", p.Index)
	}

	return nil
}

func (k KafkaConfig) TLSConfig() (*tls.Config, error) {
	if !k.TLS {
		return nil, nil
	}
	return kafka_storage.GetTLSConfig(k.TrustStorePath)
}

func (k KafkaConfig) Credentials() (producer, consumer *plain.Mechanism, err error) {
	if producer, err = ParseKafkaAuthCredentials(k.ProducerCredentials); err != nil {
		return nil, nil, fmt.Errorf("invalid producer credentials: %w", err)
	}
	if consumer, err = ParseKafkaAuthCredentials(k.ConsumerCredentials); err != nil {
		return nil, nil, fmt.Errorf("invalid consumer credentials: %w", err)
	}
	return producer, consumer, nil
}

// ParseKafkaAuthCredentials parses "username:password". An empty string
// means no SASL.
func ParseKafkaAuthCredentials(creds string) (*plain.Mechanism, error) {
	if creds == "" {
		return nil, nil
	}
	credsSplited := strings.SplitN(creds, ":", 2)
	if len(credsSplited) == 1 {
		return nil, fmt.Errorf("failed to parse credentials")
	}
	return &plain.Mechanism{
		Username: credsSplited[0],
		Password: credsSplited[1],
	}, nil
}
