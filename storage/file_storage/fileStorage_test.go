package file_storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lidofinance/tssd/client/modules/state"
	"github.com/lidofinance/tssd/storage"
)

func newTestQueue(t *testing.T, testFile string, st state.State) *FileQueue {
	q, err := NewFileQueue("sign", testFile, st, 10*time.Millisecond)
	require.NoError(t, err)
	return q
}

func TestFileQueue_PublishFetch(t *testing.T) {
	var (
		req      = require.New(t)
		testFile = "/tmp/tssd_test_file_queue"
		dbPath   = "/tmp/tssd_test_file_queue_state"
		ctx      = context.Background()
	)
	defer os.Remove(testFile)
	defer os.Remove(testFile + ".lock")
	defer os.RemoveAll(dbPath)

	st, err := state.NewLevelDBState(dbPath)
	req.NoError(err)
	defer st.Close()

	q := newTestQueue(t, testFile, st)
	defer q.Close()

	const N = 5
	for i := 0; i < N; i++ {
		req.NoError(q.Publish(ctx, fmt.Sprintf("req-%d", i), []byte(fmt.Sprintf(`{"n":%d}`, i))))
	}

	for i := 0; i < N; i++ {
		d, err := q.Fetch(ctx)
		req.NoError(err)
		req.Equal(int64(i), d.Offset)
		req.Equal(fmt.Sprintf("req-%d", i), string(d.Key))
		req.Equal(fmt.Sprintf(`{"n":%d}`, i), string(d.Value))
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = q.Fetch(fetchCtx)
	req.ErrorIs(err, context.DeadlineExceeded)
}

func TestFileQueue_ResumesAfterCommittedOffset(t *testing.T) {
	var (
		req      = require.New(t)
		testFile = "/tmp/tssd_test_file_queue_resume"
		dbPath   = "/tmp/tssd_test_file_queue_resume_state"
		ctx      = context.Background()
	)
	defer os.Remove(testFile)
	defer os.Remove(testFile + ".lock")
	defer os.RemoveAll(dbPath)

	st, err := state.NewLevelDBState(dbPath)
	req.NoError(err)
	defer st.Close()

	q := newTestQueue(t, testFile, st)
	for i := 0; i < 4; i++ {
		req.NoError(q.Publish(ctx, "key", []byte{byte('a' + i)}))
	}

	var deliveries []storage.Delivery
	for i := 0; i < 4; i++ {
		d, err := q.Fetch(ctx)
		req.NoError(err)
		deliveries = append(deliveries, d)
	}

	// 0 and 2 acked: only 0 is committable
	req.NoError(q.Ack(ctx, deliveries[0]))
	req.NoError(q.Ack(ctx, deliveries[2]))
	req.NoError(q.Close())

	offset, err := st.LoadOffset("sign")
	req.NoError(err)
	req.Equal(uint64(1), offset)

	q = newTestQueue(t, testFile, st)
	defer q.Close()

	d, err := q.Fetch(ctx)
	req.NoError(err)
	req.Equal(int64(1), d.Offset)
	req.Equal([]byte{'b'}, d.Value)
}

func TestFileQueue_FetchWaitsForWriter(t *testing.T) {
	var (
		req      = require.New(t)
		testFile = "/tmp/tssd_test_file_queue_wait"
		dbPath   = "/tmp/tssd_test_file_queue_wait_state"
		ctx      = context.Background()
	)
	defer os.Remove(testFile)
	defer os.Remove(testFile + ".lock")
	defer os.RemoveAll(dbPath)

	st, err := state.NewLevelDBState(dbPath)
	req.NoError(err)
	defer st.Close()

	q := newTestQueue(t, testFile, st)
	defer q.Close()

	// a line still being written is not delivered
	f, err := os.OpenFile(testFile, os.O_APPEND|os.O_WRONLY, 0644)
	req.NoError(err)
	defer f.Close()
	_, err = f.WriteString(`not json`)
	req.NoError(err)

	fetchCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = q.Fetch(fetchCtx)
	req.ErrorIs(err, context.DeadlineExceeded)

	_, err = f.WriteString(" at all\n")
	req.NoError(err)

	d, err := q.Fetch(ctx)
	req.NoError(err)
	req.Equal("not json at all", string(d.Value))
	req.Empty(d.Key)
}

func TestFileQueue_Closed(t *testing.T) {
	var (
		req      = require.New(t)
		testFile = "/tmp/tssd_test_file_queue_closed"
		dbPath   = "/tmp/tssd_test_file_queue_closed_state"
	)
	defer os.Remove(testFile)
	defer os.Remove(testFile + ".lock")
	defer os.RemoveAll(dbPath)

	st, err := state.NewLevelDBState(dbPath)
	req.NoError(err)
	defer st.Close()

	q := newTestQueue(t, testFile, st)
	req.NoError(q.Close())
	req.NoError(q.Close())

	_, err = q.Fetch(context.Background())
	req.ErrorIs(err, storage.ErrClosed)
}

func TestNewFileQueue_OffsetPastEnd(t *testing.T) {
	var (
		req      = require.New(t)
		testFile = "/tmp/tssd_test_file_queue_past_end"
		dbPath   = "/tmp/tssd_test_file_queue_past_end_state"
	)
	defer os.Remove(testFile)
	defer os.Remove(testFile + ".lock")
	defer os.RemoveAll(dbPath)

	st, err := state.NewLevelDBState(dbPath)
	req.NoError(err)
	defer st.Close()

	req.NoError(st.SaveOffset("sign", 3))
	_, err = NewFileQueue("sign", testFile, st, time.Millisecond)
	req.Error(err)
}

func TestFileProducer_AppendsToQueue(t *testing.T) {
	var (
		req      = require.New(t)
		testFile = "/tmp/tssd_test_file_producer"
		dbPath   = "/tmp/tssd_test_file_producer_state"
		ctx      = context.Background()
	)
	defer os.Remove(testFile)
	defer os.Remove(testFile + ".lock")
	defer os.RemoveAll(dbPath)

	st, err := state.NewLevelDBState(dbPath)
	req.NoError(err)
	defer st.Close()

	q := newTestQueue(t, testFile, st)
	defer q.Close()

	p, err := NewFileProducer(testFile)
	req.NoError(err)
	req.NoError(p.Publish(ctx, "req-1", []byte(`{"identity":"v1"}`)))
	req.NoError(p.Close())

	fetchCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	d, err := q.Fetch(fetchCtx)
	req.NoError(err)
	req.Equal("req-1", string(d.Key))
	req.Equal(`{"identity":"v1"}`, string(d.Value))
}
