package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// claimRetries bounds ClaimSlot retries after a transaction conflict.
const claimRetries = 5

// BadgerStore implements Store on BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a store at path. An in-memory store is
// opened when inMemory is true and path is ignored.
func OpenBadger(path string, inMemory bool) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	opts.ValueLogFileSize = 16 << 20
	opts.SyncWrites = !inMemory

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// NewBadgerStoreFromDB wraps an already open database.
func NewBadgerStoreFromDB(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// DB exposes the database so other components can share it.
func (s *BadgerStore) DB() *badger.DB {
	return s.db
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) Get(ctx context.Context, id string) (*Credential, error) {
	var cred Credential
	err := s.db.View(func(txn *badger.Txn) error {
		return getCredential(txn, id, &cred)
	})
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (s *BadgerStore) Put(ctx context.Context, id string, cred *Credential) error {
	if id == "" {
		return errors.New("athlete id cannot be empty")
	}
	if cred == nil {
		return errors.New("credential cannot be nil")
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(credentialKey(id), data)
	})
}

func (s *BadgerStore) UpdateTokens(ctx context.Context, id string, tokens TokenSet) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var cred Credential
		if err := getCredential(txn, id, &cred); err != nil {
			return err
		}
		cred.AccessToken = tokens.AccessToken
		cred.RefreshToken = tokens.RefreshToken
		cred.ExpiresAt = tokens.ExpiresAt

		data, err := json.Marshal(&cred)
		if err != nil {
			return fmt.Errorf("marshal credential: %w", err)
		}
		return txn.Set(credentialKey(id), data)
	})
}

func (s *BadgerStore) Slots(ctx context.Context) ([SlotCount]string, error) {
	var slots [SlotCount]string
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		slots, err = readSlots(txn)
		return err
	})
	return slots, err
}

// ClaimSlot reads and writes the slot table in one transaction. Badger
// aborts the loser of two concurrent claims with ErrConflict; the claim is
// then retried against the new table.
func (s *BadgerStore) ClaimSlot(ctx context.Context, id string) (int, error) {
	if id == "" {
		return 0, errors.New("athlete id cannot be empty")
	}

	var slot int
	var err error
	for attempt := 0; attempt < claimRetries; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			slots, err := readSlots(txn)
			if err != nil {
				return err
			}
			n, changed, err := claim(slots, id)
			if err != nil {
				return err
			}
			slot = n
			if !changed {
				return nil
			}
			return txn.Set(slotKey(n), []byte(id))
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}
	if err != nil {
		return 0, err
	}
	return slot, nil
}

func getCredential(txn *badger.Txn, id string, cred *Credential) error {
	item, err := txn.Get(credentialKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get credential: %w", err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, cred)
	})
}

func readSlots(txn *badger.Txn) ([SlotCount]string, error) {
	var slots [SlotCount]string
	for i := range slots {
		item, err := txn.Get(slotKey(i + 1))
		if errors.Is(err, badger.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return slots, fmt.Errorf("get slot %d: %w", i+1, err)
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return slots, fmt.Errorf("read slot %d: %w", i+1, err)
		}
		slots[i] = string(val)
	}
	return slots, nil
}
