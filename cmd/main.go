package main

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/franzego/coachengine/internal/config"
	"github.com/franzego/coachengine/internal/handlers"
	"github.com/franzego/coachengine/internal/messagestore"
	"github.com/franzego/coachengine/internal/middleware"
	"github.com/franzego/coachengine/internal/queue"
	"github.com/franzego/coachengine/internal/router"
	"github.com/franzego/coachengine/internal/topicstate"
	"github.com/franzego/coachengine/pkg/redis"
)

func isValidRabbitMQURL(url string) bool {
	if url == "" {
		return false
	}
	return strings.HasPrefix(url, "amqp://") || strings.HasPrefix(url, "amqps://")
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Failed to init logger", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	redisClient := redis.InitRedis(cfg.Redis)

	var rabbitClient *queue.RabbitMqClient
	if isValidRabbitMQURL(cfg.RabbitMQ.URL) {
		rabbitClient, err = queue.NewRabbitMqService(cfg.RabbitMQ, sugar)
		if err != nil {
			sugar.Warnw("rabbitmq unavailable, push sink runs in mock mode", "error", err)
			rabbitClient = nil
		} else if err := rabbitClient.SetUpExchangeAndQueue(); err != nil {
			sugar.Fatalw("rabbitmq topology setup failed", "error", err)
		}
	} else {
		sugar.Infow("no rabbitmq url configured, push sink runs in mock mode")
	}
	if rabbitClient != nil {
		defer rabbitClient.CloseConnection()
	}

	topics := topicstate.NewStore(redisClient, cfg.Engine.TopicCooldownHours, cfg.Engine.DefaultCooldownHrs)
	messages := messagestore.NewStore(redisClient)
	counters := router.NewCounters(redisClient)

	var sink router.PushSink
	if rabbitClient != nil {
		sink = rabbitClient
	}
	coachRouter := router.New(topics, messages, counters, sink, sugar, cfg.Engine)

	coachHandler := handlers.NewCoachHandler(coachRouter, messages, topics, sugar)
	healthHandler := handlers.NewHealthHandler(rabbitClient, redisClient)

	// Periodic expiry sweep, off the delivery path.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Engine.SweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		removed, err := messages.SweepAll(ctx, time.Now())
		if err != nil {
			sugar.Warnw("expiry sweep failed", "error", err)
			return
		}
		if removed > 0 {
			sugar.Infow("expiry sweep done", "removed", removed)
		}
	}); err != nil {
		sugar.Fatalw("invalid sweep schedule", "schedule", cfg.Engine.SweepSchedule, "error", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	r := gin.Default()
	r.Use(middleware.CorrelationID())

	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg.Auth.JWTSecret))
	{
		api.POST("/coach/candidates", coachHandler.SubmitCandidate)
		api.POST("/coach/candidates/batch", coachHandler.SubmitBatch)
		api.GET("/coach/inbox", coachHandler.GetInbox)
		api.POST("/coach/inbox/:id/dismiss", coachHandler.Dismiss)
		api.POST("/coach/app-open", coachHandler.AppOpen)
	}

	r.GET("/health", healthHandler.HealthCheck)

	r.GET("/Alive", func(c *gin.Context) {
		// Return JSON response
		c.JSON(http.StatusOK, gin.H{
			"status":  "Alive",
			"service": "coach-engine",
		})
	})

	r.Run(":" + cfg.Server.Port)
}
