package persistence

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/respkv/respkv/app/database"
)

// ErrNoSnapshot is returned when there is no snapshot to load: the path is
// not configured or the file cannot be read. It is the cold start path.
var ErrNoSnapshot = errors.New("rdb: no snapshot")

// LoadRDB reads and decodes the snapshot at path. The whole file is read;
// snapshots are not limited to a fixed-size prefix.
func LoadRDB(path string, now time.Time) (*RDB, error) {
	if path == "" {
		return nil, ErrNoSnapshot
	}
	b, err := os.ReadFile(path)
	if err != nil {
		// missing and unreadable files are both a cold start
		return nil, fmt.Errorf("%w: %w", ErrNoSnapshot, err)
	}
	rdb, err := UnMarshalRDB(b, now)
	if err != nil {
		return nil, fmt.Errorf("fail to unmarshal rdb file %s: %w", path, err)
	}
	return rdb, nil
}

// LoadDB builds the keyspace from the snapshot at path. Any failure leaves
// the keyspace empty; the error is returned for the caller to report.
func LoadDB(path string, opts ...database.Option) (*database.DB, *RDB, error) {
	rdb, err := LoadRDB(path, time.Now())
	if err != nil {
		return database.NewDB(opts...), nil, err
	}
	return database.NewFromLoad(rdb.Datas, opts...), rdb, nil
}
