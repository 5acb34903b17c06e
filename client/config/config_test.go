package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

const testConfig = `
username: node-2
mnemonic: "test mnemonic"
relay:
  address: http://relay:8080
  round_timeout: 90s
party:
  index: 2
  threshold: 1
  parties: 3
queue:
  backend: kafka
  consumer_group: tssd-node-2
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
  producer_credentials: producer:producerpass
dispatcher:
  max_concurrent_jobs: 4
http_api:
  listen_addr: localhost:8080
`

func writeConfig(t *testing.T, content string) string {
	path := t.TempDir() + "/config.yaml"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_File(t *testing.T) {
	req := require.New(t)

	cfg, err := Load(viper.New(), writeConfig(t, testConfig))
	req.NoError(err)

	req.Equal("node-2", cfg.Username)
	req.Equal("http://relay:8080", cfg.Relay.Address)
	req.Equal(90*time.Second, cfg.Relay.RoundTimeout)
	req.Equal(defaultJoinTimeout, cfg.Relay.JoinTimeout)
	req.Equal(uint16(2), cfg.Party.Index)
	req.Equal([]uint16{1, 2, 3}, cfg.Party.Signers)
	req.Equal([]string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	req.Equal(int64(4), cfg.Dispatcher.MaxConcurrentJobs)
	req.Equal("sign_signals", cfg.Queue.SignTopic)
	req.Equal("localhost:8080", cfg.HttpApi.ListenAddr)

	producer, consumer, err := cfg.Kafka.Credentials()
	req.NoError(err)
	req.Equal("producer", producer.Username)
	req.Equal("producerpass", producer.Password)
	req.Nil(consumer)

	tlsConfig, err := cfg.Kafka.TLSConfig()
	req.NoError(err)
	req.Nil(tlsConfig)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	req := require.New(t)

	t.Setenv("TSSD_RELAY_ADDRESS", "http://other-relay:9000")
	t.Setenv("TSSD_PARTY_SIGNERS", "2,3")

	cfg, err := Load(viper.New(), writeConfig(t, testConfig))
	req.NoError(err)
	req.Equal("http://other-relay:9000", cfg.Relay.Address)
	req.Equal([]uint16{2, 3}, cfg.Party.Signers)
}

func TestLoad_Invalid(t *testing.T) {
	for name, content := range map[string]string{
		"missing relay": `
mnemonic: m
party: {index: 1, threshold: 1, parties: 2}
queue: {backend: file}
`,
		"missing mnemonic": `
relay: {address: "http://relay"}
party: {index: 1, threshold: 1, parties: 2}
queue: {backend: file}
`,
		"threshold too high": `
mnemonic: m
relay: {address: "http://relay"}
party: {index: 1, threshold: 2, parties: 2}
queue: {backend: file}
`,
		"own index not a signer": `
mnemonic: m
relay: {address: "http://relay"}
party: {index: 1, threshold: 1, parties: 3, signers: [2, 3]}
queue: {backend: file}
`,
		"kafka without brokers": `
mnemonic: m
relay: {address: "http://relay"}
party: {index: 1, threshold: 1, parties: 2}
queue: {backend: kafka, consumer_group: g}
`,
		"unknown backend": `
mnemonic: m
relay: {address: "http://relay"}
party: {index: 1, threshold: 1, parties: 2}
queue: {backend: nats}
`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(viper.New(), writeConfig(t, content))
			require.Error(t, err)
		})
	}
}

func TestParseKafkaAuthCredentials(t *testing.T) {
	req := require.New(t)

	creds, err := ParseKafkaAuthCredentials("consumer:pass:with:colons")
	req.NoError(err)
	req.Equal("consumer", creds.Username)
	req.Equal("pass:with:colons", creds.Password)

	creds, err = ParseKafkaAuthCredentials("")
	req.NoError(err)
	req.Nil(creds)

	_, err = ParseKafkaAuthCredentials("no-password")
	req.Error(err)
}
