package keystore

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/lidofinance/tssd/dkg"
)

const keySharePrefix = "keyshare"

var (
	ErrNotFound  = errors.New("key share not found")
	ErrAmbiguous = errors.New("more than one key share stored")
	ErrConflict  = errors.New("key share already stored")
)

type KeyStore interface {
	Get(identity string) (*dkg.LocalKeyShare, error)
	Put(identity string, share *dkg.LocalKeyShare) error
	// PublicKey returns the hex joint public key stored with the share
	// without unsealing it.
	PublicKey(identity string) (string, error)
	Close() error
}

type record struct {
	ID          string    `json:"id"`
	Identity    string    `json:"identity"`
	PublicKey   string    `json:"public_key"`
	SealedShare []byte    `json:"sealed_share"`
	CreatedAt   time.Time `json:"created_at"`
}

// LevelDBKeyStore keeps one sealed key share per identity.
type LevelDBKeyStore struct {
	keystoreDb *leveldb.DB
	seed       []byte
}

func NewLevelDBKeyStore(keystorePath string, seed []byte) (*LevelDBKeyStore, error) {
	if len(seed) == 0 {
		return nil, errors.New("sealing seed is empty")
	}

	db, err := leveldb.OpenFile(keystorePath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open keystore: %w", err)
	}

	return &LevelDBKeyStore{
		keystoreDb: db,
		seed:       seed,
	}, nil
}

// identityPrefix never matches a longer identity: the hex form has no
// separator in it.
func identityPrefix(identity string) []byte {
	return []byte(fmt.Sprintf("%s_%s_", keySharePrefix, hex.EncodeToString([]byte(identity))))
}

func (s *LevelDBKeyStore) Get(identity string) (*dkg.LocalKeyShare, error) {
	rec, err := s.lookup(identity)
	if err != nil {
		return nil, err
	}

	data, err := open(s.seed, rec.SealedShare)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal key share %s: %w", rec.ID, err)
	}

	var share dkg.LocalKeyShare
	if err := json.Unmarshal(data, &share); err != nil {
		return nil, fmt.Errorf("failed to unmarshal key share %s: %w", rec.ID, err)
	}
	if share.Identity != identity {
		return nil, fmt.Errorf("key share %s belongs to %s", rec.ID, share.Identity)
	}

	return &share, nil
}

func (s *LevelDBKeyStore) PublicKey(identity string) (string, error) {
	rec, err := s.lookup(identity)
	if err != nil {
		return "", err
	}
	return rec.PublicKey, nil
}

func (s *LevelDBKeyStore) lookup(identity string) (*record, error) {
	iter := s.keystoreDb.NewIterator(util.BytesPrefix(identityPrefix(identity)), nil)
	defer iter.Release()

	rec, err := single(iter)
	if err != nil {
		return nil, fmt.Errorf("failed to find key share for %s: %w", identity, err)
	}

	return rec, nil
}

func single(iter iterator.Iterator) (*record, error) {
	var found []byte
	count := 0
	for iter.Next() {
		count++
		if count > 1 {
			return nil, ErrAmbiguous
		}
		found = append([]byte(nil), iter.Value()...)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNotFound
	}

	var rec record
	if err := json.Unmarshal(found, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	return &rec, nil
}

// Put stores share under identity. The presence check and the write run in
// one transaction, so of two concurrent Puts for an identity one fails with
// ErrConflict.
func (s *LevelDBKeyStore) Put(identity string, share *dkg.LocalKeyShare) error {
	if share == nil {
		return errors.New("key share is nil")
	}
	if share.Identity != identity {
		return fmt.Errorf("key share belongs to %s, not %s", share.Identity, identity)
	}

	publicKey, err := share.PublicKeyHex()
	if err != nil {
		return err
	}
	data, err := json.Marshal(share)
	if err != nil {
		return fmt.Errorf("failed to marshal key share: %w", err)
	}
	sealed, err := seal(s.seed, data)
	if err != nil {
		return fmt.Errorf("failed to seal key share: %w", err)
	}

	rec := record{
		ID:          uuid.New().String(),
		Identity:    identity,
		PublicKey:   publicKey,
		SealedShare: sealed,
		CreatedAt:   time.Now().UTC(),
	}
	recBz, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	prefix := identityPrefix(identity)

	tr, err := s.keystoreDb.OpenTransaction()
	if err != nil {
		return fmt.Errorf("failed to open transaction: %w", err)
	}
	defer tr.Discard()

	iter := tr.NewIterator(util.BytesPrefix(prefix), nil)
	exists := iter.Next()
	iterErr := iter.Error()
	iter.Release()
	if iterErr != nil {
		return fmt.Errorf("failed to check key shares: %w", iterErr)
	}
	if exists {
		return fmt.Errorf("failed to store key share for %s: %w", identity, ErrConflict)
	}

	if err := tr.Put(append(prefix, rec.ID...), recBz, nil); err != nil {
		return fmt.Errorf("failed to put key share: %w", err)
	}
	if err := tr.Commit(); err != nil {
		return fmt.Errorf("failed to commit key share: %w", err)
	}

	return nil
}

func (s *LevelDBKeyStore) Close() error {
	return s.keystoreDb.Close()
}
