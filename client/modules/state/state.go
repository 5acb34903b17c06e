package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	OffsetKey = "offset"
	JobsKey   = "jobs"
)

// State is the node's local bookkeeping: queue offsets and the job ledger.
type State interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Iterate(prefix string, fn func(key string, value []byte) error) error

	SaveOffset(name string, offset uint64) error
	LoadOffset(name string) (uint64, error)

	Close() error
}

type LevelDBState struct {
	sync.Mutex
	stateDb     *leveldb.DB
	stateDbPath string
}

func NewLevelDBState(stateDbPath string) (*LevelDBState, error) {
	db, err := leveldb.OpenFile(stateDbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open stateDB: %w", err)
	}

	return &LevelDBState{
		stateDb:     db,
		stateDbPath: stateDbPath,
	}, nil
}

// Get returns nil without an error when key is absent.
func (s *LevelDBState) Get(key string) ([]byte, error) {
	s.Lock()
	defer s.Unlock()

	value, err := s.stateDb.Get([]byte(key), nil)
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("failed to get value with key {%s} from leveldb storage: %w", key, err)
	}
	return value, nil
}

func (s *LevelDBState) Set(key string, value []byte) error {
	s.Lock()
	defer s.Unlock()
	if err := s.stateDb.Put([]byte(key), value, nil); err != nil {
		return fmt.Errorf("failed to save value with key %s: %w", key, err)
	}
	return nil
}

func (s *LevelDBState) Delete(key string) error {
	s.Lock()
	defer s.Unlock()

	err := s.stateDb.Delete([]byte(key), nil)
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return fmt.Errorf("failed to delete value with key {%s}: %w", key, err)
	}
	return nil
}

// Iterate calls fn for every key starting with prefix, in key order. fn
// must not call back into the state.
func (s *LevelDBState) Iterate(prefix string, fn func(key string, value []byte) error) error {
	s.Lock()
	defer s.Unlock()

	iter := s.stateDb.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	for iter.Next() {
		value := append([]byte(nil), iter.Value()...)
		if err := fn(string(iter.Key()), value); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("failed to iterate over %s: %w", prefix, err)
	}
	return nil
}

func (s *LevelDBState) SaveOffset(name string, offset uint64) error {
	bz := make([]byte, 8)
	binary.LittleEndian.PutUint64(bz, offset)

	if err := s.Set(MakeCompositeKeyString(name, OffsetKey), bz); err != nil {
		return fmt.Errorf("failed to set offset: %w", err)
	}

	return nil
}

// LoadOffset returns 0 for a queue that has never been committed.
func (s *LevelDBState) LoadOffset(name string) (uint64, error) {
	bz, err := s.Get(MakeCompositeKeyString(name, OffsetKey))
	if err != nil {
		return 0, fmt.Errorf("failed to read offset: %w", err)
	}
	if bz == nil {
		return 0, nil
	}
	if len(bz) != 8 {
		return 0, fmt.Errorf("offset of %s is corrupted: %d bytes", name, len(bz))
	}

	return binary.LittleEndian.Uint64(bz), nil
}

func (s *LevelDBState) Close() error {
	s.Lock()
	defer s.Unlock()
	return s.stateDb.Close()
}

func MakeCompositeKey(prefix, key string) []byte {
	return []byte(fmt.Sprintf("%s_%s", prefix, key))
}

func MakeCompositeKeyString(prefix, key string) string {
	return fmt.Sprintf("%s_%s", prefix, key)
}
