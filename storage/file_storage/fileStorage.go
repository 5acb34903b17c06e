package file_storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/juju/fslock"

	"github.com/lidofinance/tssd/client/modules/state"
	"github.com/lidofinance/tssd/storage"
)

const defaultPollInterval = 200 * time.Millisecond

var _ storage.Queue = (*FileQueue)(nil)

type record struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// FileQueue is an append-only JSON-lines queue for single-host setups.
// Writers serialize on a lock file; the committed line offset lives in the
// node state under the queue name.
type FileQueue struct {
	name         string
	state        state.State
	lockFile     *fslock.Lock
	pollInterval time.Duration

	writeFile *os.File

	mu       sync.Mutex
	readFile *os.File
	reader   *bufio.Reader
	partial  []byte
	next     int64
	closed   bool

	tracker *storage.AckTracker
}

// NewFileQueue opens the queue stored in filename. Reading resumes after
// the last committed line.
func NewFileQueue(name, filename string, st state.State, pollInterval time.Duration) (*FileQueue, error) {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	writeFile, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open a data file: %w", err)
	}
	readFile, err := os.Open(filename)
	if err != nil {
		writeFile.Close()
		return nil, fmt.Errorf("failed to open a data file for reading: %w", err)
	}

	q := &FileQueue{
		name:         name,
		state:        st,
		lockFile:     fslock.New(filename + ".lock"),
		pollInterval: pollInterval,
		writeFile:    writeFile,
		readFile:     readFile,
		reader:       bufio.NewReader(readFile),
		tracker:      storage.NewAckTracker(),
	}

	committed, err := st.LoadOffset(name)
	if err != nil {
		q.Close()
		return nil, err
	}
	for q.next < int64(committed) {
		line, err := q.readLine()
		if err != nil {
			q.Close()
			return nil, err
		}
		if line == nil {
			q.Close()
			return nil, fmt.Errorf("committed offset %d is past the end of %s", committed, filename)
		}
	}

	return q, nil
}

func (q *FileQueue) Publish(_ context.Context, key string, value []byte) error {
	return appendRecord(q.lockFile, q.writeFile, key, value)
}

func appendRecord(lockFile *fslock.Lock, w io.Writer, key string, value []byte) error {
	data, err := json.Marshal(record{Key: key, Value: value})
	if err != nil {
		return fmt.Errorf("failed to marshal a message: %w", err)
	}

	if err := lockFile.Lock(); err != nil {
		return fmt.Errorf("failed to lock a file: %w", err)
	}
	defer lockFile.Unlock()

	if _, err = w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write a message to a data file: %w", err)
	}

	return nil
}

// FileProducer appends to a file queue without consuming it.
type FileProducer struct {
	lockFile  *fslock.Lock
	writeFile *os.File
}

var _ storage.Publisher = (*FileProducer)(nil)

func NewFileProducer(filename string) (*FileProducer, error) {
	writeFile, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open a data file: %w", err)
	}
	return &FileProducer{
		lockFile:  fslock.New(filename + ".lock"),
		writeFile: writeFile,
	}, nil
}

func (p *FileProducer) Publish(_ context.Context, key string, value []byte) error {
	return appendRecord(p.lockFile, p.writeFile, key, value)
}

func (p *FileProducer) Close() error {
	return p.writeFile.Close()
}

func (q *FileQueue) Fetch(ctx context.Context) (storage.Delivery, error) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		d, ok, err := q.tryFetch()
		if err != nil || ok {
			return d, err
		}

		select {
		case <-ctx.Done():
			return storage.Delivery{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *FileQueue) tryFetch() (storage.Delivery, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return storage.Delivery{}, false, storage.ErrClosed
	}

	offset := q.next
	line, err := q.readLine()
	if err != nil || line == nil {
		return storage.Delivery{}, false, err
	}

	d := storage.Delivery{Topic: q.name, Offset: offset}
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		// handed over as is, the consumer rejects it
		d.Value = line
	} else {
		d.Key, d.Value = []byte(rec.Key), rec.Value
	}
	q.tracker.Track(d)

	return d, true, nil
}

// readLine returns the next complete line, or nil when the writer has not
// finished one yet.
func (q *FileQueue) readLine() ([]byte, error) {
	chunk, err := q.reader.ReadBytes('\n')
	q.partial = append(q.partial, chunk...)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read a data file: %w", err)
	}

	line := bytes.TrimRight(q.partial, "\r\n")
	q.partial = nil
	q.next++

	return line, nil
}

func (q *FileQueue) Ack(_ context.Context, d storage.Delivery) error {
	commit, ok, err := q.tracker.Done(d)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if err := q.state.SaveOffset(q.name, uint64(commit.Offset)+1); err != nil {
		return fmt.Errorf("failed to commit offset of %s: %w", q.name, err)
	}

	return nil
}

func (q *FileQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	if err := q.readFile.Close(); err != nil {
		return fmt.Errorf("failed to close a data file: %w", err)
	}
	if err := q.writeFile.Close(); err != nil {
		return fmt.Errorf("failed to close a data file: %w", err)
	}
	return nil
}
