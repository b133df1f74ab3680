// Package badger implements a persistent repository.Connector on BadgerDB.
//
// Key Namespace:
//
//	Data Type   Prefix   Key Format                         Value Type
//	=====================================================================
//	Entity      "e:"     e:<table>:<companyID>:<id>         entity (JSON)
//
// All entities of one tenant in one table share the prefix
// "e:<table>:<companyID>:", so a tenant-scoped Find is a single prefix scan
// and keys come back ordered by id.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/repository"
)

const (
	prefixEntity = "e:"

	// maxTxnRetries bounds retries of a compare-and-set transaction that hit
	// a Badger write conflict.
	maxTxnRetries = 5
)

// Config contains configuration for the BadgerDB connector.
type Config struct {
	// DBPath is the directory where BadgerDB stores its files.
	DBPath string `mapstructure:"db_path" validate:"required"`

	// InMemory runs BadgerDB without touching disk. DBPath is ignored.
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`
}

// Connector is a repository.Connector backed by BadgerDB.
//
// Thread Safety:
// BadgerDB provides serializable snapshot isolation; every operation runs in
// its own transaction and no additional locking is needed.
type Connector struct {
	db *badgerdb.DB
}

// New opens (or creates) a BadgerDB database.
//
// Parameters:
//   - ctx: Context for cancellation
//   - cfg: Database location and cache sizes
//
// Returns:
//   - *Connector: Ready-to-use connector
//   - error: Error if the database cannot be opened
func New(ctx context.Context, cfg Config) (*Connector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badgerdb.DefaultOptions(cfg.DBPath)
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badgerdb.WARNING)
	opts = opts.WithCompression(options.None)

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := cfg.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	logger.Debug("Badger repository opened at %q (in_memory=%v)", cfg.DBPath, cfg.InMemory)
	return &Connector{db: db}, nil
}

func keyPrefix(table, companyID string) []byte {
	return []byte(prefixEntity + table + ":" + companyID + ":")
}

func keyEntity(table, companyID, id string) []byte {
	return append(keyPrefix(table, companyID), id...)
}

// Find implements repository.Connector.
func (c *Connector) Find(ctx context.Context, table string, filter repository.Filter, opts repository.FindOptions) (repository.RawPage, error) {
	if err := ctx.Err(); err != nil {
		return repository.RawPage{}, err
	}
	if err := filter.Validate(); err != nil {
		return repository.RawPage{}, err
	}
	offset, err := repository.PageOffset(opts.PageToken)
	if err != nil {
		return repository.RawPage{}, err
	}

	var page repository.RawPage
	err = c.db.View(func(txn *badgerdb.Txn) error {
		// Point lookup when the id is constrained.
		if id, ok := filter[repository.FieldID].(string); ok {
			if offset > 0 {
				return nil
			}
			item, err := txn.Get(keyEntity(table, filter.CompanyID(), id))
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if match, err := matches(filter, data); err != nil || !match {
				return err
			}
			page.Documents = append(page.Documents, data)
			return nil
		}

		prefix := keyPrefix(table, filter.CompanyID())
		it := txn.NewIterator(badgerdb.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: prefix})
		defer it.Close()

		skipped := 0
		more := false
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			match, err := matches(filter, data)
			if err != nil {
				return err
			}
			if !match {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			if opts.Limit > 0 && len(page.Documents) == opts.Limit {
				more = true
				break
			}
			page.Documents = append(page.Documents, data)
		}
		page.NextPage = repository.NextPageToken(offset, len(page.Documents), opts.Limit, more)
		return nil
	})
	if err != nil {
		return repository.RawPage{}, fmt.Errorf("badger find on %s: %w", table, err)
	}
	return page, nil
}

func matches(filter repository.Filter, data []byte) (bool, error) {
	doc, err := repository.DecodeDocument(data)
	if err != nil {
		return false, err
	}
	return filter.Matches(doc)
}

// Save implements repository.Connector.
func (c *Connector) Save(ctx context.Context, table, companyID, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if companyID == "" {
		return repository.ErrMissingCompany
	}

	err := c.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(keyEntity(table, companyID, id), data)
	})
	if errors.Is(err, badgerdb.ErrConflict) {
		return repository.ErrConflict
	}
	return err
}

// Remove implements repository.Connector.
func (c *Connector) Remove(ctx context.Context, table, companyID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if companyID == "" {
		return repository.ErrMissingCompany
	}

	key := keyEntity(table, companyID, id)
	err := c.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return repository.ErrNotFound
			}
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badgerdb.ErrConflict) {
		return repository.ErrConflict
	}
	return err
}

// AtomicCompareAndSet implements repository.Connector.
//
// The read-compare-write runs in one Badger transaction. If the transaction
// loses a write conflict it is retried against the new snapshot, so the
// result always reflects a value that was actually current.
func (c *Connector) AtomicCompareAndSet(ctx context.Context, table, companyID, id, field string, previous, next any) (bool, error) {
	if companyID == "" {
		return false, repository.ErrMissingCompany
	}
	key := keyEntity(table, companyID, id)

	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		swapped := false
		err := c.db.Update(func(txn *badgerdb.Txn) error {
			item, err := txn.Get(key)
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return repository.ErrNotFound
			}
			if err != nil {
				return err
			}
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			doc, err := repository.DecodeDocument(data)
			if err != nil {
				return err
			}
			equal, err := repository.FieldEquals(doc, field, previous)
			if err != nil || !equal {
				return err
			}

			doc[field] = next
			updated, err := json.Marshal(doc)
			if err != nil {
				return err
			}
			swapped = true
			return txn.Set(key, updated)
		})

		if errors.Is(err, badgerdb.ErrConflict) {
			continue
		}
		if err != nil {
			return false, err
		}
		return swapped, nil
	}

	return false, repository.ErrConflict
}

// Close implements repository.Connector.
func (c *Connector) Close() error {
	return c.db.Close()
}
