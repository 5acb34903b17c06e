package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/lidofinance/tssd/client/config"
	"github.com/lidofinance/tssd/client/modules/keystore"
	"github.com/lidofinance/tssd/client/modules/logger"
	"github.com/lidofinance/tssd/client/repositories/job"
	"github.com/lidofinance/tssd/client/services"
	"github.com/lidofinance/tssd/client/services/orchestrator"
	"github.com/lidofinance/tssd/settlement"
	"github.com/lidofinance/tssd/storage"
)

const (
	ackTimeout = 10 * time.Second

	infoDuplicate    = "duplicate job"
	infoShareExists  = "key share already exists"
	infoHandlerPanic = "internal error"
)

// Result is the outcome of one delivery. Info is the signature or public key
// on success and a short cause otherwise.
type Result struct {
	Success bool
	Info    string
}

func failure(err error) Result {
	return Result{Info: Cause(err)}
}

type handlerFunc func(ctx context.Context, raw []byte) Result

// Dispatcher consumes the sign and keygen queues and runs one orchestrator
// job per delivery.
type Dispatcher struct {
	party config.PartyConfig

	keyStore    keystore.KeyStore
	jobs        job.JobRepo
	keyGen      orchestrator.KeyGenerator
	signer      orchestrator.Signer
	signQueue   storage.Queue
	keygenQueue storage.Queue
	reporter    settlement.Reporter

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	Logger logger.Logger
}

func NewDispatcher(cfg *config.Config, sp *services.ServiceProvider) (*Dispatcher, error) {
	if cfg.Dispatcher.MaxConcurrentJobs < 1 {
		return nil, fmt.Errorf("max concurrent jobs must be positive, got %d", cfg.Dispatcher.MaxConcurrentJobs)
	}

	d := &Dispatcher{
		party:       cfg.Party,
		keyStore:    sp.GetKeyStore(),
		jobs:        sp.GetJobRepo(),
		keyGen:      sp.GetKeyGenerator(),
		signer:      sp.GetSigner(),
		signQueue:   sp.GetSignQueue(),
		keygenQueue: sp.GetKeygenQueue(),
		reporter:    sp.GetReporter(),
		sem:         semaphore.NewWeighted(cfg.Dispatcher.MaxConcurrentJobs),
		Logger:      sp.GetLogger(),
	}
	if d.Logger == nil {
		d.Logger = logger.NewNop()
	}

	switch {
	case d.keyStore == nil:
		return nil, errors.New("key store is not initialized")
	case d.jobs == nil:
		return nil, errors.New("job repo is not initialized")
	case d.keyGen == nil || d.signer == nil:
		return nil, errors.New("orchestrators are not initialized")
	case d.signQueue == nil || d.keygenQueue == nil:
		return nil, errors.New("queues are not initialized")
	case d.reporter == nil:
		return nil, errors.New("settlement reporter is not initialized")
	}

	return d, nil
}

// Run consumes both queues until ctx is cancelled or a queue fails. It
// returns after every started job has finished.
func (d *Dispatcher) Run(ctx context.Context) error {
	interrupted, err := d.jobs.FailInterrupted()
	if err != nil {
		return fmt.Errorf("failed to recover job ledger: %w", err)
	}
	for _, j := range interrupted {
		d.Logger.Warn("%s job %s was interrupted by a restart and is marked as failed", j.Kind, j.ID)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.consume(gctx, "sign", d.signQueue, d.HandleSign)
	})
	g.Go(func() error {
		return d.consume(gctx, "keygen", d.keygenQueue, d.HandleKeygen)
	})

	err = g.Wait()
	d.wg.Wait()

	return err
}

func (d *Dispatcher) consume(ctx context.Context, name string, q storage.Queue, handle handlerFunc) error {
	d.Logger.Log("consuming %s signals", name)
	for {
		delivery, err := q.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, storage.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to fetch %s signal: %w", name, err)
		}

		// the delivery stays unacknowledged while the node is saturated
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return nil
		}

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer d.sem.Release(1)
			d.process(ctx, name, q, delivery, handle)
		}()
	}
}

func (d *Dispatcher) process(ctx context.Context, name string, q storage.Queue, delivery storage.Delivery, handle handlerFunc) {
	log := d.Logger.With("queue", name).With("offset", delivery.Offset)

	res := d.safeHandle(ctx, log, delivery, handle)
	if res.Success {
		log.Log("%s signal handled", name)
	} else {
		log.Warn("%s signal failed: %s", name, res.Info)
	}

	if ctx.Err() != nil {
		log.Warn("shutting down, %s signal left unacknowledged", name)
		return
	}

	ackCtx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	if err := q.Ack(ackCtx, delivery); err != nil {
		log.Error(err, "failed to ack %s signal", name)
	}
}

func (d *Dispatcher) safeHandle(ctx context.Context, log logger.Logger, delivery storage.Delivery, handle handlerFunc) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(fmt.Errorf("%v", r), "handler panicked")
			res = Result{Info: infoHandlerPanic}
		}
	}()

	return handle(ctx, delivery.Value)
}

// HandleSign signs the message of one sign signal with the stored share of
// its identity and reports the signature for settlement.
func (d *Dispatcher) HandleSign(ctx context.Context, raw []byte) Result {
	env, signJob, err := parseSignJob(raw)
	if err != nil {
		d.Logger.Warn("dropping sign signal: %s", Cause(err))
		return failure(err)
	}

	log := d.Logger.With("session_id", signJob.SessionID).With("request_id", env.RequestID)

	started, err := d.jobs.Begin(job.KindSign, signJob.SessionID, env.RequestID)
	if err != nil {
		log.Error(err, "failed to record sign job")
		return failure(err)
	}
	if !started {
		log.Log("sign job was already seen, skipping")
		return Result{Success: true, Info: infoDuplicate}
	}

	res := d.sign(ctx, log, env, signJob)
	if err := d.jobs.Finish(job.KindSign, signJob.SessionID, res.Success, res.Info); err != nil {
		log.Error(err, "failed to record sign job result")
	}

	return res
}

func (d *Dispatcher) sign(ctx context.Context, log logger.Logger, env *storage.Envelope, signJob *SignJobDTO) Result {
	share, err := d.keyStore.Get(signJob.Identity)
	if err != nil {
		log.Error(err, "failed to load key share")
		return failure(err)
	}

	parties := signJob.Parties
	if len(parties) == 0 {
		parties = d.party.Signers
	}

	sig, err := d.signer.Sign(ctx, orchestrator.SignRequest{
		SessionID: signJob.SessionID,
		Message:   signJob.Message,
		Share:     share,
		Parties:   parties,
	})
	if err != nil {
		log.Error(err, "failed to sign")
		return failure(err)
	}

	err = d.reporter.Report(ctx, settlement.Settlement{
		JobID:     signJob.SessionID,
		RequestID: env.RequestID,
		Signature: sig,
	})
	if err != nil {
		log.Error(err, "failed to report settlement")
	}

	return Result{Success: true, Info: sig}
}

// HandleKeygen runs key generation for the identity of one keygen signal and
// stores the resulting share.
func (d *Dispatcher) HandleKeygen(ctx context.Context, raw []byte) Result {
	env, keygenJob, err := parseKeygenJob(raw)
	if err != nil {
		d.Logger.Warn("dropping keygen signal: %s", Cause(err))
		return failure(err)
	}

	log := d.Logger.With("identity", keygenJob.Identity).With("request_id", env.RequestID)

	// one keygen per identity at a time; a failed run frees the identity
	started, err := d.jobs.BeginExclusive(job.KindKeygen, env.RequestID, env.RequestID, keygenJob.Identity)
	if err != nil {
		log.Error(err, "failed to record keygen job")
		return failure(err)
	}
	if !started {
		log.Log("keygen job was already seen, skipping")
		return Result{Success: true, Info: infoDuplicate}
	}

	res := d.keygen(ctx, log, keygenJob)
	if err := d.jobs.Finish(job.KindKeygen, env.RequestID, res.Success, res.Info); err != nil {
		log.Error(err, "failed to record keygen job result")
	}

	return res
}

func (d *Dispatcher) keygen(ctx context.Context, log logger.Logger, keygenJob *KeygenJobDTO) Result {
	_, err := d.keyStore.PublicKey(keygenJob.Identity)
	switch {
	case err == nil:
		log.Log("key share already exists, skipping keygen")
		return Result{Info: infoShareExists}
	case !errors.Is(err, keystore.ErrNotFound):
		log.Error(err, "failed to check key store")
		return failure(err)
	}

	share, err := d.keyGen.Generate(ctx, orchestrator.KeygenRequest{
		Identity:  keygenJob.Identity,
		Index:     d.party.Index,
		Threshold: d.party.Threshold,
		Parties:   d.party.Parties,
	})
	if err != nil {
		log.Error(err, "failed to generate key")
		return failure(err)
	}

	if err := d.keyStore.Put(keygenJob.Identity, share); err != nil {
		log.Error(err, "failed to store key share")
		return failure(err)
	}

	pubKey, err := share.PublicKeyHex()
	if err != nil {
		log.Error(err, "failed to encode public key")
		return failure(err)
	}
	log.Log("key share stored, public key %s", pubKey)

	return Result{Success: true, Info: pubKey}
}
