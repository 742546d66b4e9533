package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yudhasubki/fanoutqueue"
	"github.com/yudhasubki/fanoutqueue/pkg/core"
	"github.com/yudhasubki/fanoutqueue/pkg/io"
	"github.com/yudhasubki/fanoutqueue/pkg/kv"
	"github.com/yudhasubki/fanoutqueue/pkg/sqlite"
)

func main() {
	db, err := sqlite.New("example", sqlite.Config{
		BusyTimeout: 5000,
	})
	if err != nil {
		panic(err)
	}
	defer db.Close()

	err = migrate(db, "migration")
	if err != nil {
		panic(err)
	}

	store, err := kv.New("examplekv")
	if err != nil {
		panic(err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	queue := fanoutqueue.New(db, store, fanoutqueue.Option{})
	defer queue.Close()

	err = queue.Run(ctx)
	if err != nil {
		panic(err)
	}

	request := io.Topic{
		Name: "images",
		Subscribers: io.Subscribers{
			{Name: "thumbnail"},
			{Name: "audit"},
		},
	}

	topic := request.Topic()
	subscribers, err := request.Subscriber(topic.Id)
	if err != nil {
		panic(err)
	}

	err = queue.CreateTopic(ctx, topic, subscribers)
	if err != nil {
		panic(err)
	}

	source := fanoutqueue.NewSource(fanoutqueue.SourceOption{
		Name:   "uploads",
		Bucket: "input",
		Topic:  topic.Name,
	}, queue)

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("photo-%d.jpg", i)
		if i%3 == 0 {
			key = fmt.Sprintf("clip-%d.gif", i)
		}

		published, err := source.ObjectCreated(ctx, key, 1024, time.Now())
		if err != nil {
			log.Printf("error publishing %s : %v", key, err)
			continue
		}
		log.Printf("object %s published : %v", key, published)
	}

	receiver, err := queue.Subscription(topic.Name, "thumbnail")
	if err != nil {
		panic(err)
	}

	consumer, err := fanoutqueue.NewConsumer("thumbnail", receiver, fanoutqueue.ProcessorFunc(func(ctx context.Context, notification core.Notification) error {
		log.Println("thumbnail for : ", notification.Key)
		return nil
	}), fanoutqueue.ConsumerOption{
		BatchSize:         fanoutqueue.MaxBatchSize,
		Concurrency:       1,
		ItemConcurrency:   4,
		InvocationTimeout: time.Minute,
		PollWait:          time.Second,
	})
	if err != nil {
		panic(err)
	}

	err = consumer.Run(ctx)
	if err != nil {
		log.Printf("consumer stopped : %v", err)
	}
}

func migrate(db *sqlite.SQLite, dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !strings.HasSuffix(path, ".sql") {
			return err
		}

		query, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		_, err = db.Conn().Exec(string(query))
		return err
	})
}
