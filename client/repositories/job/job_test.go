package job_test

import (
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lidofinance/tssd/client/modules/state"
	"github.com/lidofinance/tssd/client/repositories/job"
)

func newRepo(t *testing.T, dbPath string) (*job.BaseJobRepo, *state.LevelDBState) {
	stg, err := state.NewLevelDBState(dbPath)
	require.NoError(t, err)
	return job.NewJobRepo(stg), stg
}

func TestJobRepo_BeginFinish(t *testing.T) {
	var (
		req    = require.New(t)
		dbPath = "/tmp/tssd_test_JobRepo_BeginFinish"
	)
	defer os.RemoveAll(dbPath)

	repo, stg := newRepo(t, dbPath)
	defer stg.Close()

	started, err := repo.Begin(job.KindSign, "session", "req-1")
	req.NoError(err)
	req.True(started)

	j, err := repo.Get(job.KindSign, "session")
	req.NoError(err)
	req.Equal(job.StatusInFlight, j.Status)
	req.Equal("req-1", j.RequestID)

	started, err = repo.Begin(job.KindSign, "session", "req-2")
	req.NoError(err)
	req.False(started)

	// kinds do not share ids
	started, err = repo.Begin(job.KindKeygen, "session", "req-3")
	req.NoError(err)
	req.True(started)

	req.NoError(repo.Finish(job.KindSign, "session", true, "signed"))
	j, err = repo.Get(job.KindSign, "session")
	req.NoError(err)
	req.Equal(job.StatusCompleted, j.Status)
	req.Equal("signed", j.Info)
	req.False(j.FinishedAt.IsZero())

	started, err = repo.Begin(job.KindSign, "session", "req-4")
	req.NoError(err)
	req.False(started)

	req.Error(repo.Finish(job.KindSign, "unknown", false, ""))
	_, err = repo.Begin(job.KindSign, "", "req")
	req.Error(err)

	missing, err := repo.Get(job.KindSign, "unknown")
	req.NoError(err)
	req.Nil(missing)
}

func TestJobRepo_ConcurrentBegin(t *testing.T) {
	var (
		req    = require.New(t)
		dbPath = "/tmp/tssd_test_JobRepo_ConcurrentBegin"
	)
	defer os.RemoveAll(dbPath)

	repo, stg := newRepo(t, dbPath)
	defer stg.Close()

	const attempts = 16
	results := make([]bool, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started, err := repo.Begin(job.KindSign, "session", "req")
			require.NoError(t, err)
			results[i] = started
		}(i)
	}
	wg.Wait()

	started := 0
	for _, ok := range results {
		if ok {
			started++
		}
	}
	req.Equal(1, started)
}

func TestJobRepo_FailInterrupted(t *testing.T) {
	var (
		req    = require.New(t)
		dbPath = "/tmp/tssd_test_JobRepo_FailInterrupted"
	)
	defer os.RemoveAll(dbPath)

	repo, stg := newRepo(t, dbPath)

	_, err := repo.Begin(job.KindSign, "a", "req-a")
	req.NoError(err)
	_, err = repo.Begin(job.KindKeygen, "b", "req-b")
	req.NoError(err)
	req.NoError(repo.Finish(job.KindKeygen, "b", true, ""))
	req.NoError(stg.Close())

	repo, stg = newRepo(t, dbPath)
	defer stg.Close()

	interrupted, err := repo.FailInterrupted()
	req.NoError(err)
	req.Len(interrupted, 1)
	req.Equal("a", interrupted[0].ID)

	j, err := repo.Get(job.KindSign, "a")
	req.NoError(err)
	req.Equal(job.StatusFailed, j.Status)
	req.Equal("interrupted", j.Info)

	j, err = repo.Get(job.KindKeygen, "b")
	req.NoError(err)
	req.Equal(job.StatusCompleted, j.Status)
}

func TestJobRepo_BeginExclusive(t *testing.T) {
	var (
		req    = require.New(t)
		dbPath = "/tmp/tssd_test_JobRepo_BeginExclusive"
	)
	defer os.RemoveAll(dbPath)

	repo, stg := newRepo(t, dbPath)

	started, err := repo.BeginExclusive(job.KindKeygen, "r1", "r1", "identity")
	req.NoError(err)
	req.True(started)

	// the identity is held by r1 while it is in flight
	started, err = repo.BeginExclusive(job.KindKeygen, "r2", "r2", "identity")
	req.NoError(err)
	req.False(started)

	started, err = repo.BeginExclusive(job.KindKeygen, "r3", "r3", "other-identity")
	req.NoError(err)
	req.True(started)

	// a failed holder frees the identity for a retry
	req.NoError(repo.Finish(job.KindKeygen, "r1", false, "relay unreachable"))
	started, err = repo.BeginExclusive(job.KindKeygen, "r2", "r2", "identity")
	req.NoError(err)
	req.True(started)

	j, err := repo.Get(job.KindKeygen, "r2")
	req.NoError(err)
	req.Equal("identity", j.Subject)

	// a completed holder keeps it
	req.NoError(repo.Finish(job.KindKeygen, "r2", true, "pubkey"))
	started, err = repo.BeginExclusive(job.KindKeygen, "r4", "r4", "identity")
	req.NoError(err)
	req.False(started)

	_, err = repo.BeginExclusive(job.KindKeygen, "r5", "r5", "")
	req.Error(err)

	// a restart fails r3 and frees its identity
	req.NoError(stg.Close())
	repo, stg = newRepo(t, dbPath)
	defer stg.Close()

	interrupted, err := repo.FailInterrupted()
	req.NoError(err)
	req.Len(interrupted, 1)
	req.Equal("r3", interrupted[0].ID)

	started, err = repo.BeginExclusive(job.KindKeygen, "r6", "r6", "other-identity")
	req.NoError(err)
	req.True(started)
}

func TestJobRepo_ConcurrentBeginExclusive(t *testing.T) {
	var (
		req    = require.New(t)
		dbPath = "/tmp/tssd_test_JobRepo_ConcurrentBeginExclusive"
	)
	defer os.RemoveAll(dbPath)

	repo, stg := newRepo(t, dbPath)
	defer stg.Close()

	const attempts = 16
	results := make([]bool, attempts)
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = repo.BeginExclusive(job.KindKeygen, fmt.Sprintf("r%d", i), "req", "identity")
		}(i)
	}
	wg.Wait()

	started := 0
	for i, ok := range results {
		req.NoError(errs[i])
		if ok {
			started++
		}
	}
	req.Equal(1, started)
}
