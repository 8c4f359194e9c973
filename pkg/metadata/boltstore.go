package metadata

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/quarrydb/quarry/pkg/types"
)

var (
	// Bucket names
	bucketFileRefs   = []byte("file_refs")
	bucketTabletDirs = []byte("tablet_dirs")
	bucketMeta       = []byte("meta")

	keyGeneration = []byte("generation")
)

// BoltStore implements Store using BoltDB. Rows live in one bucket per
// column family, keyed by the tablet's metadata row; file-reference keys
// append the path qualifier after a NUL separator so a tablet's files scan
// contiguously.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) the metadata database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "metadata.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{bucketFileRefs, bucketTabletDirs, bucketMeta}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func fileRefKey(extent types.KeyExtent, path string) []byte {
	row := extent.MetaRow()
	key := make([]byte, 0, len(row)+1+len(path))
	key = append(key, row...)
	key = append(key, 0)
	key = append(key, path...)
	return key
}

func (s *BoltStore) PutFileRef(ref *types.FileReference) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFileRefs)
		data, err := json.Marshal(ref)
		if err != nil {
			return err
		}
		return b.Put(fileRefKey(ref.Extent, ref.Path), data)
	})
}

func (s *BoltStore) GetFileRef(extent types.KeyExtent, path string) (*types.FileReference, error) {
	var ref types.FileReference
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFileRefs)
		data := b.Get(fileRefKey(extent, path))
		if data == nil {
			return fmt.Errorf("file %s %s: %w", extent, path, ErrNotFound)
		}
		return json.Unmarshal(data, &ref)
	})
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (s *BoltStore) DeleteFileRef(extent types.KeyExtent, path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFileRefs)
		return b.Delete(fileRefKey(extent, path))
	})
}

// ReplaceFileRef deletes the old row and inserts the updated one inside a
// single write transaction, so readers never observe a state with neither.
func (s *BoltStore) ReplaceFileRef(old, updated *types.FileReference) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFileRefs)
		oldKey := fileRefKey(old.Extent, old.Path)
		if b.Get(oldKey) == nil {
			return fmt.Errorf("file %s %s: %w", old.Extent, old.Path, ErrNotFound)
		}
		if err := b.Delete(oldKey); err != nil {
			return err
		}
		data, err := json.Marshal(updated)
		if err != nil {
			return err
		}
		return b.Put(fileRefKey(updated.Extent, updated.Path), data)
	})
}

func (s *BoltStore) ScanFileRefs(rng types.ScanRange, fn func(*types.FileReference) error) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketFileRefs).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var ref types.FileReference
			if err := json.Unmarshal(v, &ref); err != nil {
				return err
			}
			if !rng.Contains(ref.Extent.MetaRow()) {
				continue
			}
			if err := fn(&ref); err != nil {
				return err
			}
		}
		return nil
	})
	if err == ErrStop {
		return nil
	}
	return err
}

func (s *BoltStore) PutTabletDir(extent types.KeyExtent, dir string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putTabletDir(tx, extent, dir)
	})
}

func putTabletDir(tx *bolt.Tx, extent types.KeyExtent, dir string) error {
	b := tx.Bucket(bucketTabletDirs)
	data, err := json.Marshal(&tabletDirRow{Extent: extent, Dir: dir})
	if err != nil {
		return err
	}
	return b.Put([]byte(extent.MetaRow()), data)
}

type tabletDirRow struct {
	Extent types.KeyExtent `json:"extent"`
	Dir    string          `json:"dir"`
}

func (s *BoltStore) GetTabletDir(extent types.KeyExtent) (string, error) {
	var row tabletDirRow
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTabletDirs)
		data := b.Get([]byte(extent.MetaRow()))
		if data == nil {
			return fmt.Errorf("tablet dir %s: %w", extent, ErrNotFound)
		}
		return json.Unmarshal(data, &row)
	})
	return row.Dir, err
}

// ReplaceTabletDir swaps a tablet's directory value in place. The row key is
// unchanged so a plain put is atomic already.
func (s *BoltStore) ReplaceTabletDir(extent types.KeyExtent, newDir string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTabletDirs)
		if b.Get([]byte(extent.MetaRow())) == nil {
			return fmt.Errorf("tablet dir %s: %w", extent, ErrNotFound)
		}
		return putTabletDir(tx, extent, newDir)
	})
}

func (s *BoltStore) ScanTabletDirs(rng types.ScanRange, fn func(types.KeyExtent, string) error) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTabletDirs).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var row tabletDirRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if !rng.Contains(row.Extent.MetaRow()) {
				continue
			}
			if err := fn(row.Extent, row.Dir); err != nil {
				return err
			}
		}
		return nil
	})
	if err == ErrStop {
		return nil
	}
	return err
}

// SplitTablet replaces the tablet with two children at splitRow inside one
// transaction. Both children reference every parent file and keep the parent
// directory until their next compaction relocates them.
func (s *BoltStore) SplitTablet(extent types.KeyExtent, splitRow string) error {
	if splitRow == "" {
		return fmt.Errorf("empty split row for %s", extent)
	}

	low := types.KeyExtent{TableID: extent.TableID, EndRow: splitRow, PrevEndRow: extent.PrevEndRow}
	high := types.KeyExtent{TableID: extent.TableID, EndRow: extent.EndRow, PrevEndRow: splitRow}

	return s.db.Update(func(tx *bolt.Tx) error {
		dirs := tx.Bucket(bucketTabletDirs)
		data := dirs.Get([]byte(extent.MetaRow()))
		if data == nil {
			return fmt.Errorf("tablet %s: %w", extent, ErrNotFound)
		}
		var dirRow tabletDirRow
		if err := json.Unmarshal(data, &dirRow); err != nil {
			return err
		}

		if err := dirs.Delete([]byte(extent.MetaRow())); err != nil {
			return err
		}
		for _, child := range []types.KeyExtent{low, high} {
			if err := putTabletDir(tx, child, dirRow.Dir); err != nil {
				return err
			}
		}

		// Re-key the parent's file rows under both children.
		refs := tx.Bucket(bucketFileRefs)
		prefix := append([]byte(extent.MetaRow()), 0)
		c := refs.Cursor()
		type kv struct {
			key []byte
			ref types.FileReference
		}
		var moved []kv
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var ref types.FileReference
			if err := json.Unmarshal(v, &ref); err != nil {
				return err
			}
			moved = append(moved, kv{key: append([]byte(nil), k...), ref: ref})
		}
		for _, m := range moved {
			if err := refs.Delete(m.key); err != nil {
				return err
			}
			for _, child := range []types.KeyExtent{low, high} {
				childRef := m.ref
				childRef.Extent = child
				data, err := json.Marshal(&childRef)
				if err != nil {
					return err
				}
				if err := refs.Put(fileRefKey(child, childRef.Path), data); err != nil {
					return err
				}
			}
		}

		return bumpGeneration(tx)
	})
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (s *BoltStore) Generation() (uint64, error) {
	var gen uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keyGeneration)
		if data != nil {
			gen = binary.BigEndian.Uint64(data)
		}
		return nil
	})
	return gen, err
}

func bumpGeneration(tx *bolt.Tx) error {
	b := tx.Bucket(bucketMeta)
	var gen uint64
	if data := b.Get(keyGeneration); data != nil {
		gen = binary.BigEndian.Uint64(data)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, gen+1)
	return b.Put(keyGeneration, buf)
}
