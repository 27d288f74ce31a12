// Package diskcache adds optional warm-start persistence to a
// racer.Model: on Save, the model's SnapshotCodec bundle is written to a
// bbolt bucket; on Load, the most recently saved bundle for a name is
// handed back for Model.Unbundle to restore.
//
// Grounded on the teacher's storage_bolt.go: a single *bbolt.DB, one
// bucket per logical namespace, values addressed by a plain string key.
package diskcache

import (
	"fmt"

	"go.etcd.io/bbolt"
)

var bucketName = []byte("racer_snapshots")

// Cache wraps a bbolt database used to persist Model bundles across
// process restarts.
type Cache struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) a bbolt database at path.
func Open(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("diskcache: opening %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("diskcache: creating bucket: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Save stores bundle (the []byte from Model.Bundle) under name,
// replacing whatever was previously saved there.
func (c *Cache) Save(name string, bundle []byte) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		value := make([]byte, len(bundle))
		copy(value, bundle)
		return b.Put([]byte(name), value)
	})
}

// Load returns the bundle last saved under name, or nil if none exists.
// The returned slice is a copy and safe to retain past the transaction.
func (c *Cache) Load(name string) ([]byte, error) {
	var out []byte
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		v := b.Get([]byte(name))
		if v == nil {
			return nil
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("diskcache: loading %s: %w", name, err)
	}
	return out, nil
}

// Delete removes any bundle saved under name. It is a no-op if none
// exists.
func (c *Cache) Delete(name string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(name))
	})
}

// Names lists every name with a saved bundle, in bbolt's natural
// (lexicographic) key order.
func (c *Cache) Names() ([]string, error) {
	var names []string
	err := c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("diskcache: listing: %w", err)
	}
	return names, nil
}
