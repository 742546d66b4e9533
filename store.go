package fanoutqueue

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nutsdb/nutsdb"
	"github.com/yudhasubki/fanoutqueue/pkg/core"
	"github.com/yudhasubki/fanoutqueue/pkg/kv"
)

// store persists queue messages in nutsdb, one bucket per queue, keyed by message id.
type store struct {
	db *kv.KV
}

func newStore(db *kv.KV) *store {
	return &store{
		db: db,
	}
}

func (s *store) readBucketTx(fn func(tx *nutsdb.Tx) error) error {
	return s.db.Database().View(func(tx *nutsdb.Tx) error {
		return fn(tx)
	})
}

func (s *store) updateBucketTx(fn func(tx *nutsdb.Tx) error) error {
	return s.db.Database().Update(func(tx *nutsdb.Tx) error {
		return fn(tx)
	})
}

func (s *store) createBucket(bucket string) error {
	return s.updateBucketTx(func(tx *nutsdb.Tx) error {
		err := tx.NewBucket(nutsdb.DataStructureBTree, bucket)
		if err != nil {
			if errors.Is(err, nutsdb.ErrBucketAlreadyExist) {
				slog.Debug(
					"bucket exist. skip create the bucket",
					logPrefixErr, err,
					logPrefixBucket, bucket,
				)
				return nil
			}

			return err
		}

		return nil
	})
}

func (s *store) put(bucket string, messages ...core.Message) error {
	if len(messages) == 0 {
		return nil
	}

	return s.updateBucketTx(func(tx *nutsdb.Tx) error {
		for _, message := range messages {
			b, err := json.Marshal(message)
			if err != nil {
				return err
			}

			err = tx.Put(bucket, []byte(message.Id), b, nutsdb.Persistent)
			if err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *store) delete(bucket string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	return s.updateBucketTx(func(tx *nutsdb.Tx) error {
		for _, id := range ids {
			err := tx.Delete(bucket, []byte(id))
			if err != nil {
				return err
			}
		}

		return nil
	})
}

// move deletes ids from one bucket and writes messages to another in one transaction.
func (s *store) move(from, to string, messages ...core.Message) error {
	if len(messages) == 0 {
		return nil
	}

	return s.updateBucketTx(func(tx *nutsdb.Tx) error {
		for _, message := range messages {
			err := tx.Delete(from, []byte(message.Id))
			if err != nil {
				return err
			}

			b, err := json.Marshal(message)
			if err != nil {
				return err
			}

			err = tx.Put(to, []byte(message.Id), b, nutsdb.Persistent)
			if err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *store) load(bucket string) (core.Messages, error) {
	messages := make(core.Messages, 0)

	err := s.readBucketTx(func(tx *nutsdb.Tx) error {
		entries, err := tx.GetAll(bucket)
		if err != nil {
			if errors.Is(err, nutsdb.ErrBucketEmpty) {
				return nil
			}

			return err
		}

		for _, entry := range entries {
			message := core.Message{}
			err := json.Unmarshal(entry, &message)
			if err != nil {
				return err
			}

			messages = append(messages, message)
		}

		return nil
	})
	if err != nil {
		return messages, err
	}

	return messages, nil
}
