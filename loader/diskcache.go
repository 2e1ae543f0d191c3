package loader

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/geosphere/quadtile/models"
	bolt "go.etcd.io/bbolt"
)

// DiskCache persists fetched tile content in a bbolt database so restarts and
// cache-evicted tiles do not hit the dataset endpoint again. Content is kept
// in one bucket per dataset, keyed by the packed tile key.
type DiskCache struct {
	db *bolt.DB
}

func OpenDiskCache(path string) (*DiskCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.New("creating cache directory failed").
			WithTag("path", path).
			Wrap(err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, errors.New("opening cache database failed").
			WithTag("path", path).
			Wrap(err)
	}
	return &DiskCache{db: db}, nil
}

// Get returns the cached content for the tile. ok is false on a miss.
func (c *DiskCache) Get(dataset string, key models.TileKey) (data []byte, ok bool, err error) {
	err = c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(dataset))
		if bucket == nil {
			return nil
		}
		if v := bucket.Get(encodeCacheKey(key)); v != nil {
			data = append([]byte(nil), v...)
			ok = true
		}
		return nil
	})
	if err != nil {
		return nil, false, errors.New("reading cached tile failed").
			WithTag("dataset", dataset).
			WithTag("tile", key).
			Wrap(err)
	}
	return data, ok, nil
}

func (c *DiskCache) Put(dataset string, key models.TileKey, data []byte) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(dataset))
		if err != nil {
			return err
		}
		return bucket.Put(encodeCacheKey(key), data)
	})
	if err != nil {
		return errors.New("writing cached tile failed").
			WithTag("dataset", dataset).
			WithTag("tile", key).
			Wrap(err)
	}
	return nil
}

func (c *DiskCache) Close() error {
	return c.db.Close()
}

func encodeCacheKey(key models.TileKey) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], key.Packed())
	return buf[:]
}
