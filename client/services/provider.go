package services

import (
	"io"

	"github.com/lidofinance/tssd/client/modules/keystore"
	"github.com/lidofinance/tssd/client/modules/logger"
	"github.com/lidofinance/tssd/client/modules/state"
	"github.com/lidofinance/tssd/client/repositories/job"
	"github.com/lidofinance/tssd/client/services/orchestrator"
	"github.com/lidofinance/tssd/relay"
	"github.com/lidofinance/tssd/settlement"
	"github.com/lidofinance/tssd/storage"
)

// ServiceProvider holds the node's long-lived services. It is built once at
// startup and passed to whoever needs them.
type ServiceProvider struct {
	logger       logger.Logger
	state        state.State
	keyStore     keystore.KeyStore
	jobRepo      job.JobRepo
	relay        relay.Joiner
	keyGenerator orchestrator.KeyGenerator
	signer       orchestrator.Signer
	signQueue    storage.Queue
	keygenQueue  storage.Queue
	reporter     settlement.Reporter

	closers []io.Closer
}

func (p *ServiceProvider) SetLogger(l logger.Logger) {
	p.logger = l
}

func (p *ServiceProvider) GetLogger() logger.Logger {
	return p.logger
}

func (p *ServiceProvider) SetState(s state.State) {
	p.state = s
}

func (p *ServiceProvider) GetState() state.State {
	return p.state
}

func (p *ServiceProvider) SetKeyStore(ks keystore.KeyStore) {
	p.keyStore = ks
}

func (p *ServiceProvider) GetKeyStore() keystore.KeyStore {
	return p.keyStore
}

func (p *ServiceProvider) SetJobRepo(r job.JobRepo) {
	p.jobRepo = r
}

func (p *ServiceProvider) GetJobRepo() job.JobRepo {
	return p.jobRepo
}

func (p *ServiceProvider) SetRelay(r relay.Joiner) {
	p.relay = r
}

func (p *ServiceProvider) GetRelay() relay.Joiner {
	return p.relay
}

func (p *ServiceProvider) SetKeyGenerator(g orchestrator.KeyGenerator) {
	p.keyGenerator = g
}

func (p *ServiceProvider) GetKeyGenerator() orchestrator.KeyGenerator {
	return p.keyGenerator
}

func (p *ServiceProvider) SetSigner(s orchestrator.Signer) {
	p.signer = s
}

func (p *ServiceProvider) GetSigner() orchestrator.Signer {
	return p.signer
}

func (p *ServiceProvider) SetSignQueue(q storage.Queue) {
	p.signQueue = q
}

func (p *ServiceProvider) GetSignQueue() storage.Queue {
	return p.signQueue
}

func (p *ServiceProvider) SetKeygenQueue(q storage.Queue) {
	p.keygenQueue = q
}

func (p *ServiceProvider) GetKeygenQueue() storage.Queue {
	return p.keygenQueue
}

func (p *ServiceProvider) SetReporter(r settlement.Reporter) {
	p.reporter = r
}

func (p *ServiceProvider) GetReporter() settlement.Reporter {
	return p.reporter
}
