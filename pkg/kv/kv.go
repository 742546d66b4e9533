package kv

import (
	"github.com/nutsdb/nutsdb"
)

// KV is the on-disk message store shared by every queue.
type KV struct {
	db *nutsdb.DB
}

func New(dir string) (*KV, error) {
	db, err := nutsdb.Open(
		nutsdb.DefaultOptions,
		nutsdb.WithDir(dir),
		nutsdb.WithEntryIdxMode(nutsdb.HintKeyAndRAMIdxMode),
	)
	if err != nil {
		return &KV{}, err
	}

	return &KV{
		db: db,
	}, nil
}

func (e *KV) Database() *nutsdb.DB {
	return e.db
}

func (e *KV) Close() error {
	return e.db.Close()
}
