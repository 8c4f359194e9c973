package walreg

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/quarrydb/quarry/pkg/types"
)

var bucketServers = []byte("servers")

// BoltRegistry implements Registry on BoltDB with one nested bucket per
// server, mirroring the per-server node layout of the coordination store it
// stands in for.
type BoltRegistry struct {
	db *bolt.DB
}

// NewBoltRegistry opens (creating if needed) the registry database under
// dataDir.
func NewBoltRegistry(dataDir string) (*BoltRegistry, error) {
	dbPath := filepath.Join(dataDir, "walreg.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketServers)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltRegistry{db: db}, nil
}

// Close closes the database.
func (r *BoltRegistry) Close() error {
	return r.db.Close()
}

func (r *BoltRegistry) PutMarker(m *types.WalMarker) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		server, err := tx.Bucket(bucketServers).CreateBucketIfNotExists([]byte(m.ServerID))
		if err != nil {
			return err
		}
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return server.Put([]byte(m.Path), data)
	})
}

func (r *BoltRegistry) UpdateState(serverID, path string, state types.WalState) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		server := tx.Bucket(bucketServers).Bucket([]byte(serverID))
		if server == nil {
			return fmt.Errorf("server %s: %w", serverID, ErrNoNode)
		}
		data := server.Get([]byte(path))
		if data == nil {
			return fmt.Errorf("marker %s %s: %w", serverID, path, ErrNoNode)
		}
		var m types.WalMarker
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		m.State = state
		updated, err := json.Marshal(&m)
		if err != nil {
			return err
		}
		return server.Put([]byte(path), updated)
	})
}

func (r *BoltRegistry) Remove(serverID, path string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		servers := tx.Bucket(bucketServers)
		server := servers.Bucket([]byte(serverID))
		if server == nil {
			return fmt.Errorf("server %s: %w", serverID, ErrNoNode)
		}
		if err := server.Delete([]byte(path)); err != nil {
			return err
		}
		// Drop the server node once its last marker is gone, matching
		// the cleanup behavior scans must race against.
		if k, _ := server.Cursor().First(); k == nil {
			return servers.DeleteBucket([]byte(serverID))
		}
		return nil
	})
}

func (r *BoltRegistry) Servers() ([]string, error) {
	var servers []string
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServers).ForEachBucket(func(k []byte) error {
			servers = append(servers, string(k))
			return nil
		})
	})
	return servers, err
}

func (r *BoltRegistry) List(serverID string) ([]*types.WalMarker, error) {
	var markers []*types.WalMarker
	err := r.db.View(func(tx *bolt.Tx) error {
		server := tx.Bucket(bucketServers).Bucket([]byte(serverID))
		if server == nil {
			return fmt.Errorf("server %s: %w", serverID, ErrNoNode)
		}
		return server.ForEach(func(k, v []byte) error {
			var m types.WalMarker
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			markers = append(markers, &m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return markers, nil
}
