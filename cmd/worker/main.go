package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/forgemedia/creator-platform/internal/config"
	"github.com/forgemedia/creator-platform/internal/db"
	"github.com/forgemedia/creator-platform/internal/engine"
	"github.com/forgemedia/creator-platform/internal/generation"
	"github.com/forgemedia/creator-platform/internal/store/rabbitmq"
	"github.com/forgemedia/creator-platform/internal/store/redisstore"
	"github.com/forgemedia/creator-platform/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	gdb := db.Connect(cfg.DBDSN)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	jobs := redisstore.NewStore(rdb, cfg.JobStatusTTL)

	eng := engine.NewClient(cfg.EngineBaseURL, cfg.CallbackBaseURL+"/plans/webhook/callback", cfg.EngineTimeout)

	runner := worker.NewRunner(jobs, eng, cfg.PieceLatency, log)
	for _, v := range []generation.Variant{
		generation.Campaigns(),
		generation.MonthlyPlans(),
		generation.ResearchQueries(),
	} {
		runner.Register(v, generation.NewRepo(gdb, v))
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(cfg.RabbitQueue, true, false, false, false, nil)
	if err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{"queue": cfg.RabbitQueue, "concurrency": concurrency}).
		Info("worker started")

	// worker pool
	tasks := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range tasks {
				var m rabbitmq.TaskMessage
				if err := json.Unmarshal(d.Body, &m); err != nil || m.EntityID == "" || m.Task == "" {
					log.WithFields(logrus.Fields{"worker": workerID, "err": err}).
						Warn("bad message")
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := runner.Run(ctx, m); err != nil {
					// Transient failures (shutdown mid-task, DB blip) go
					// back to the queue so the entity is re-run; only
					// poison messages dead-letter.
					requeue := errors.Is(err, worker.ErrTransient)
					log.WithFields(logrus.Fields{
						"worker":    workerID,
						"task":      m.Task,
						"entity_id": m.EntityID,
						"cost":      time.Since(start).String(),
						"requeue":   requeue,
						"err":       err,
					}).Error("task failed")
					_ = d.Nack(false, requeue)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.WithFields(logrus.Fields{"worker": workerID, "entity_id": m.EntityID, "err": err}).
						Error("ack failed")
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(tasks)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			tasks <- d
		}
	}
}
