package services

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lidofinance/tssd/client/config"
	"github.com/lidofinance/tssd/client/modules/keystore"
	"github.com/lidofinance/tssd/client/modules/logger"
	"github.com/lidofinance/tssd/client/modules/state"
	"github.com/lidofinance/tssd/client/repositories/job"
	"github.com/lidofinance/tssd/client/services/orchestrator"
	"github.com/lidofinance/tssd/relay"
	"github.com/lidofinance/tssd/settlement"
	"github.com/lidofinance/tssd/storage"
	"github.com/lidofinance/tssd/storage/file_storage"
	"github.com/lidofinance/tssd/storage/kafka_storage"
)

// InitServices opens the node's stores, queues and relay client. Close
// releases them.
func InitServices(cfg *config.Config, l logger.Logger) (*ServiceProvider, error) {
	sp := &ServiceProvider{}
	sp.SetLogger(l)

	if err := initServices(cfg, sp); err != nil {
		sp.Close()
		return nil, err
	}

	return sp, nil
}

func initServices(cfg *config.Config, sp *ServiceProvider) error {
	st, err := state.NewLevelDBState(cfg.StateDBDSN)
	if err != nil {
		return fmt.Errorf("failed to init state: %w", err)
	}
	sp.SetState(st)
	sp.closers = append(sp.closers, st)
	sp.SetJobRepo(job.NewJobRepo(st))

	seed, err := keystore.SeedFromMnemonic(cfg.Mnemonic)
	if err != nil {
		return err
	}
	keyStore, err := keystore.NewLevelDBKeyStore(cfg.KeyStoreDBDSN, seed)
	if err != nil {
		return fmt.Errorf("failed to init key store: %w", err)
	}
	sp.SetKeyStore(keyStore)
	sp.closers = append(sp.closers, keyStore)

	relayClient, err := relay.NewClient(cfg.Relay.Address, cfg.Relay.JoinTimeout, sp.GetLogger().With("component", "relay"))
	if err != nil {
		return fmt.Errorf("failed to init relay client: %w", err)
	}
	sp.SetRelay(relayClient)
	sp.SetKeyGenerator(orchestrator.NewKeyGenerator(relayClient, cfg.Relay.RoundTimeout, sp.GetLogger().With("component", "keygen")))
	sp.SetSigner(orchestrator.NewSigner(relayClient, cfg.Relay.RoundTimeout, sp.GetLogger().With("component", "signer")))

	switch cfg.Queue.Backend {
	case config.QueueBackendKafka:
		return initKafkaQueues(cfg, sp)
	case config.QueueBackendFile:
		return initFileQueues(cfg, sp, st)
	default:
		return fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

func initKafkaQueues(cfg *config.Config, sp *ServiceProvider) error {
	tlsConfig, err := cfg.Kafka.TLSConfig()
	if err != nil {
		return fmt.Errorf("failed to create tls config: %w", err)
	}
	producerCreds, consumerCreds, err := cfg.Kafka.Credentials()
	if err != nil {
		return err
	}

	newQueue := func(topic string) (storage.Queue, error) {
		return kafka_storage.NewKafkaQueue(cfg.Kafka.Brokers, topic, cfg.Queue.ConsumerGroup,
			tlsConfig, producerCreds, consumerCreds, cfg.Kafka.Timeout)
	}

	signQueue, err := newQueue(cfg.Queue.SignTopic)
	if err != nil {
		return fmt.Errorf("failed to init sign queue: %w", err)
	}
	sp.SetSignQueue(signQueue)
	sp.closers = append(sp.closers, signQueue)

	keygenQueue, err := newQueue(cfg.Queue.KeygenTopic)
	if err != nil {
		return fmt.Errorf("failed to init keygen queue: %w", err)
	}
	sp.SetKeygenQueue(keygenQueue)
	sp.closers = append(sp.closers, keygenQueue)

	producer, err := kafka_storage.NewProducer(cfg.Kafka.Brokers, cfg.Queue.SettlementTopic, tlsConfig, producerCreds, cfg.Kafka.Timeout)
	if err != nil {
		return fmt.Errorf("failed to init settlement producer: %w", err)
	}
	sp.closers = append(sp.closers, producer)
	sp.SetReporter(settlement.NewQueueReporter(producer, sp.GetLogger().With("component", "settlement")))

	return nil
}

func initFileQueues(cfg *config.Config, sp *ServiceProvider, st state.State) error {
	if err := os.MkdirAll(cfg.Queue.FileDir, 0755); err != nil {
		return fmt.Errorf("failed to create queue dir: %w", err)
	}

	newQueue := func(topic string) (*file_storage.FileQueue, error) {
		return file_storage.NewFileQueue(topic, filepath.Join(cfg.Queue.FileDir, topic), st, cfg.Queue.PollInterval)
	}

	signQueue, err := newQueue(cfg.Queue.SignTopic)
	if err != nil {
		return fmt.Errorf("failed to init sign queue: %w", err)
	}
	sp.SetSignQueue(signQueue)
	sp.closers = append(sp.closers, signQueue)

	keygenQueue, err := newQueue(cfg.Queue.KeygenTopic)
	if err != nil {
		return fmt.Errorf("failed to init keygen queue: %w", err)
	}
	sp.SetKeygenQueue(keygenQueue)
	sp.closers = append(sp.closers, keygenQueue)

	settlementQueue, err := newQueue(cfg.Queue.SettlementTopic)
	if err != nil {
		return fmt.Errorf("failed to init settlement queue: %w", err)
	}
	sp.closers = append(sp.closers, settlementQueue)
	sp.SetReporter(settlement.NewQueueReporter(settlementQueue, sp.GetLogger().With("component", "settlement")))

	return nil
}

// Close releases whatever InitServices managed to open, in reverse order.
func (p *ServiceProvider) Close() error {
	var firstErr error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.closers = nil
	if firstErr != nil {
		return fmt.Errorf("failed to close services: %w", firstErr)
	}
	return nil
}
