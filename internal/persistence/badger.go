package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/artemis/schema-migrate/internal/migration"
	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Badger is the durable Store, backed by an embedded badger/v4 database.
// Entries are keyed "proj:<projectId>:rev:<revision>" (zero-padded to sort
// lexicographically in revision order) plus one "proj:<projectId>:pending"
// sentinel key per project, written and checked inside the same
// transaction as Create so admission control is atomic at the storage
// layer regardless of what the worker itself has already checked.
type Badger struct {
	db     *badger.DB
	logger *zap.Logger
}

// BadgerConfig configures the embedded store's on-disk location.
type BadgerConfig struct {
	Dir string
}

// NewBadger opens (creating if necessary) a badger database at cfg.Dir.
func NewBadger(cfg BadgerConfig, logger *zap.Logger) (*Badger, error) {
	opts := badger.DefaultOptions(cfg.Dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("persistence: opening badger at %q: %w", cfg.Dir, err)
	}
	return &Badger{db: db, logger: logger}, nil
}

func revisionKey(projectID string, revision int64) []byte {
	return []byte(fmt.Sprintf("proj:%s:rev:%020d", projectID, revision))
}

func revisionPrefix(projectID string) []byte {
	return []byte(fmt.Sprintf("proj:%s:rev:", projectID))
}

func pendingKey(projectID string) []byte {
	return []byte(fmt.Sprintf("proj:%s:pending", projectID))
}

func (b *Badger) GetLastMigration(_ context.Context, projectID string) (migration.Migration, error) {
	var last migration.Migration
	found := false

	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Reverse: true, Prefix: revisionPrefix(projectID)})
		defer it.Close()

		seekKey := append(append([]byte{}, revisionPrefix(projectID)...), 0xff)
		it.Seek(seekKey)
		if !it.ValidForPrefix(revisionPrefix(projectID)) {
			return nil
		}

		item := it.Item()
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &last); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return migration.Migration{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !found {
		return migration.Migration{}, ErrNotFound
	}
	return last, nil
}

func (b *Badger) GetMigration(_ context.Context, projectID string, revision int64) (migration.Migration, error) {
	var mig migration.Migration

	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(revisionKey(projectID, revision))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &mig)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return migration.Migration{}, ErrNotFound
	}
	if err != nil {
		return migration.Migration{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return mig, nil
}

func (b *Badger) Create(_ context.Context, mig migration.Migration) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		if mig.Status == migration.StatusPending {
			if _, err := txn.Get(pendingKey(mig.ProjectID)); err == nil {
				return migration.ErrDeploymentInProgress
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}

		encoded, err := json.Marshal(mig)
		if err != nil {
			return err
		}
		if err := txn.Set(revisionKey(mig.ProjectID, mig.Revision), encoded); err != nil {
			return err
		}
		if mig.Status == migration.StatusPending {
			return txn.Set(pendingKey(mig.ProjectID), []byte(strconv.FormatInt(mig.Revision, 10)))
		}
		return nil
	})
	if errors.Is(err, migration.ErrDeploymentInProgress) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

func (b *Badger) UpdateStatus(_ context.Context, projectID string, revision int64, status migration.Status) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		key := revisionKey(projectID, revision)
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		var mig migration.Migration
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &mig)
		}); err != nil {
			return err
		}

		mig.Status = status
		encoded, err := json.Marshal(mig)
		if err != nil {
			return err
		}
		if err := txn.Set(key, encoded); err != nil {
			return err
		}

		if status.IsTerminal() {
			if err := txn.Delete(pendingKey(projectID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

func (b *Badger) ScanPending(_ context.Context) ([]migration.Migration, error) {
	var pending []migration.Migration

	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte("proj:")})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			if !strings.Contains(key, ":rev:") {
				continue
			}
			var mig migration.Migration
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &mig)
			}); err != nil {
				return err
			}
			if mig.Status == migration.StatusPending {
				pending = append(pending, mig)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return pending, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}
