package fanoutqueue

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/yudhasubki/fanoutqueue/pkg/core"
)

type Driver interface {
	Conn() *sqlx.DB
	Close() error
}

type db struct {
	Database Driver
}

func newDb(driver Driver) *db {
	return &db{
		Database: driver,
	}
}

func (d *db) getTopics(ctx context.Context, filter core.FilterTopic) (core.Topics, error) {
	var (
		topics = make(core.Topics, 0)
		query  = "SELECT id, name, created_at, deleted_at FROM topics"
	)

	clause, arg := filter.Filter("AND")
	if clause != "" {
		query += " WHERE " + clause
	}

	query, args, err := sqlx.Named(query, arg)
	if err != nil {
		return topics, err
	}

	query, args, err = sqlx.In(query, args...)
	if err != nil {
		return topics, err
	}
	query = d.Database.Conn().Rebind(query)

	err = d.Database.Conn().SelectContext(ctx, &topics, query, args...)
	if err != nil {
		return topics, err
	}

	return topics, nil
}

func (d *db) getSubscribers(ctx context.Context, filter core.FilterSubscriber) (core.Subscribers, error) {
	var (
		subscribers = make(core.Subscribers, 0)
		query       = "SELECT topic_subscribers.id, topic_subscribers.topic_id, topic_subscribers.name, topic_subscribers.option, topic_subscribers.created_at, topic_subscribers.deleted_at, t.name as topic_name FROM topic_subscribers INNER JOIN topics t ON topic_subscribers.topic_id = t.id"
	)

	clause, arg := filter.Filter("AND")
	if clause != "" {
		query += " WHERE " + clause
	}

	query, args, err := sqlx.Named(query, arg)
	if err != nil {
		return subscribers, err
	}

	query, args, err = sqlx.In(query, args...)
	if err != nil {
		return subscribers, err
	}
	query = d.Database.Conn().Rebind(query)

	err = d.Database.Conn().SelectContext(ctx, &subscribers, query, args...)
	if err != nil {
		return subscribers, err
	}

	return subscribers, nil
}

func (d *db) createTxTopic(ctx context.Context, tx *sqlx.Tx, topic core.Topic) error {
	_, err := tx.NamedExecContext(ctx, "INSERT INTO topics (id, name) VALUES (:id, :name)", topic)
	if err != nil {
		return err
	}

	return nil
}

func (d *db) deleteTxTopic(ctx context.Context, tx *sqlx.Tx, topic core.Topic) error {
	_, err := tx.NamedExecContext(ctx, "UPDATE topics SET deleted_at = :deleted_at WHERE id = :id", topic)
	if err != nil {
		return err
	}

	_, err = tx.NamedExecContext(ctx, "UPDATE topic_subscribers SET deleted_at = :deleted_at WHERE topic_id = :id AND deleted_at IS NULL", topic)
	if err != nil {
		return err
	}

	return nil
}

func (d *db) deleteTxSubscribers(ctx context.Context, tx *sqlx.Tx, subscriber core.Subscriber) error {
	_, err := tx.NamedExecContext(ctx, "UPDATE topic_subscribers SET deleted_at = :deleted_at WHERE name = :name AND topic_id = :topic_id AND deleted_at IS NULL", subscriber)
	if err != nil {
		return err
	}

	return nil
}

func (d *db) createTxSubscribers(ctx context.Context, tx *sqlx.Tx, subscribers core.Subscribers) error {
	if len(subscribers) == 0 {
		return nil
	}

	_, err := tx.NamedExecContext(ctx, "INSERT INTO topic_subscribers (id, topic_id, name, option) VALUES (:id, :topic_id, :name, :option)", subscribers)
	if err != nil {
		return err
	}

	return nil
}

func (d *db) tx(ctx context.Context, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	tx, err := d.Database.Conn().BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	err = fn(ctx, tx)
	if err != nil {
		if errTx := tx.Rollback(); errTx != nil {
			return errors.Join(err, errTx)
		}

		return err
	}

	return tx.Commit()
}
