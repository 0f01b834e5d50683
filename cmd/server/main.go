package main

import (
	"github.com/forgemedia/creator-platform/internal/config"
	"github.com/forgemedia/creator-platform/internal/db"
	"github.com/forgemedia/creator-platform/internal/generation"
	"github.com/forgemedia/creator-platform/internal/httpapi"
	"github.com/forgemedia/creator-platform/internal/store/rabbitmq"
	"github.com/forgemedia/creator-platform/internal/store/redisstore"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	gdb := db.Connect(cfg.DBDSN)

	campaignsV := generation.Campaigns()
	plansV := generation.MonthlyPlans()
	researchV := generation.ResearchQueries()

	if err := db.Migrate(gdb, campaignsV, plansV, researchV); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	jobs := redisstore.NewStore(rdb, cfg.JobStatusTTL)

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("rabbit publisher: %v", err)
	}
	defer pub.Close()

	campaigns := generation.NewService(gdb, campaignsV, pub, jobs, log)
	plans := generation.NewService(gdb, plansV, pub, jobs, log)
	research := generation.NewService(gdb, researchV, pub, jobs, log)

	r := httpapi.NewRouter(gdb, cfg, campaigns, plans, research)

	log.WithField("port", cfg.Port).Info("server starting")
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server: %v", err)
	}
}
