package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lidofinance/tssd/client/modules/state"
)

type Kind string

const (
	KindSign   Kind = "sign"
	KindKeygen Kind = "keygen"
)

type Status string

const (
	StatusInFlight  Status = "in_flight"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const subjectsKey = "job_subjects"

// Job is a ledger entry. Sign jobs are keyed by session id, keygen jobs by
// the request id of the signal.
type Job struct {
	Kind       Kind      `json:"kind"`
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	Status     Status    `json:"status"`
	Info       string    `json:"info,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type JobRepo interface {
	// Begin records a job as in flight. It returns false when the job is
	// already known in any status.
	Begin(kind Kind, id, requestID string) (bool, error)
	// BeginExclusive is Begin for a job that also claims subject, such as the
	// identity of a keygen. It returns false while another job holding the
	// subject is in flight or completed. A failed holder frees the subject.
	BeginExclusive(kind Kind, id, requestID, subject string) (bool, error)
	Finish(kind Kind, id string, success bool, info string) error
	Get(kind Kind, id string) (*Job, error)
	// FailInterrupted marks jobs left in flight by a previous run as failed.
	FailInterrupted() ([]*Job, error)
}

type BaseJobRepo struct {
	mu    sync.Mutex
	state state.State
}

func NewJobRepo(state state.State) *BaseJobRepo {
	return &BaseJobRepo{state: state}
}

func jobKey(kind Kind, id string) string {
	return state.MakeCompositeKeyString(state.MakeCompositeKeyString(state.JobsKey, string(kind)), id)
}

func subjectKey(kind Kind, subject string) string {
	return state.MakeCompositeKeyString(state.MakeCompositeKeyString(subjectsKey, string(kind)), subject)
}

func (r *BaseJobRepo) Begin(kind Kind, id, requestID string) (bool, error) {
	return r.begin(kind, id, requestID, "")
}

func (r *BaseJobRepo) BeginExclusive(kind Kind, id, requestID, subject string) (bool, error) {
	if subject == "" {
		return false, errors.New("job subject is empty")
	}
	return r.begin(kind, id, requestID, subject)
}

func (r *BaseJobRepo) begin(kind Kind, id, requestID, subject string) (bool, error) {
	if id == "" {
		return false, errors.New("job id is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.get(kind, id)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	if subject != "" {
		holder, err := r.subjectHolder(kind, subject)
		if err != nil {
			return false, err
		}
		if holder != nil && holder.Status != StatusFailed {
			return false, nil
		}
	}

	j := &Job{
		Kind:      kind,
		ID:        id,
		RequestID: requestID,
		Status:    StatusInFlight,
		Subject:   subject,
		StartedAt: time.Now().UTC(),
	}
	if err := r.save(j); err != nil {
		return false, err
	}

	if subject != "" {
		if err := r.state.Set(subjectKey(kind, subject), []byte(id)); err != nil {
			return false, fmt.Errorf("failed to claim %s subject %s: %w", kind, subject, err)
		}
	}

	return true, nil
}

// subjectHolder returns the last job that claimed subject, or nil.
func (r *BaseJobRepo) subjectHolder(kind Kind, subject string) (*Job, error) {
	id, err := r.state.Get(subjectKey(kind, subject))
	if err != nil {
		return nil, fmt.Errorf("failed to get %s subject %s: %w", kind, subject, err)
	}
	if id == nil {
		return nil, nil
	}
	return r.get(kind, string(id))
}

func (r *BaseJobRepo) Finish(kind Kind, id string, success bool, info string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, err := r.get(kind, id)
	if err != nil {
		return err
	}
	if j == nil {
		return fmt.Errorf("%s job %s not found", kind, id)
	}

	j.Status = StatusFailed
	if success {
		j.Status = StatusCompleted
	}
	j.Info = info
	j.FinishedAt = time.Now().UTC()

	return r.save(j)
}

func (r *BaseJobRepo) Get(kind Kind, id string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.get(kind, id)
}

func (r *BaseJobRepo) FailInterrupted() ([]*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var interrupted []*Job
	err := r.state.Iterate(state.JobsKey+"_", func(key string, value []byte) error {
		var j Job
		if err := json.Unmarshal(value, &j); err != nil {
			return fmt.Errorf("failed to unmarshal job %s: %w", key, err)
		}
		if j.Status == StatusInFlight {
			interrupted = append(interrupted, &j)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	for _, j := range interrupted {
		j.Status = StatusFailed
		j.Info = "interrupted"
		j.FinishedAt = time.Now().UTC()
		if err := r.save(j); err != nil {
			return nil, err
		}
	}

	return interrupted, nil
}

func (r *BaseJobRepo) get(kind Kind, id string) (*Job, error) {
	bz, err := r.state.Get(jobKey(kind, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get %s job %s: %w", kind, id, err)
	}
	if bz == nil {
		return nil, nil
	}

	var j Job
	if err := json.Unmarshal(bz, &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s job %s: %w", kind, id, err)
	}

	return &j, nil
}

func (r *BaseJobRepo) save(j *Job) error {
	bz, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := r.state.Set(jobKey(j.Kind, j.ID), bz); err != nil {
		return fmt.Errorf("failed to save %s job %s: %w", j.Kind, j.ID, err)
	}

	return nil
}
