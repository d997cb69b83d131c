package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/textback/notify-api/pkg/jobqueue"
	"github.com/textback/notify-api/pkg/logger"
	"github.com/textback/notify-api/pkg/messaging"
	redisbroker "github.com/textback/notify-api/pkg/messaging/redis"
	"github.com/textback/notify-api/pkg/metrics"

	"github.com/textback/notify-api/internal/channel"
	"github.com/textback/notify-api/internal/config"
	"github.com/textback/notify-api/internal/handler"
	notificationHandler "github.com/textback/notify-api/internal/handler/notification"
	smsHandler "github.com/textback/notify-api/internal/handler/sms"
	"github.com/textback/notify-api/internal/model"
	"github.com/textback/notify-api/internal/repository/postgres"
	"github.com/textback/notify-api/internal/router"
	"github.com/textback/notify-api/internal/service/digest"
	"github.com/textback/notify-api/internal/service/dispatch"
	"github.com/textback/notify-api/internal/service/render"
	"github.com/textback/notify-api/internal/sms"
)

func main() {
	log := logger.NewLogger(nil)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Error(err, "failed to load configuration")
		os.Exit(1)
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Error(err, "failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	broker, err := redisbroker.NewRedisBroker(redisbroker.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, log.Zerolog())
	if err != nil {
		log.Error(err, "failed to connect to redis broker")
		os.Exit(1)
	}
	defer broker.Close()

	queueClient, err := newRedisClient(cfg.Redis.URL)
	if err != nil {
		log.Error(err, "failed to connect to redis queue")
		os.Exit(1)
	}
	defer queueClient.Close()
	queue := jobqueue.New(queueClient, jobqueue.Config{
		Key:        cfg.Worker.QueueKey,
		Visibility: cfg.Worker.JobVisibility,
	})

	m := metrics.NewMetrics("notify", "api")

	base := postgres.NewBaseRepository(db)
	prefRepo := postgres.NewPreferenceRepository(base)
	deliveryRepo := postgres.NewDeliveryRepository(base)
	digestRepo := postgres.NewDigestRepository(base)
	bindingRepo := postgres.NewSMSBindingRepository(base)
	poolRepo := postgres.NewPoolNumberRepository(base)

	gateway := sms.NewGateway(sms.GatewayConfig{
		DefaultProvider:       cfg.SMS.DefaultProvider,
		AllowProviderFallback: cfg.SMS.AllowProviderFallback,
	}, bindingRepo, log)
	gateway.Register(sms.NewTwilio(sms.TwilioConfig{
		AccountSID:  cfg.SMS.Twilio.AccountSID,
		AuthToken:   cfg.SMS.Twilio.AuthToken,
		DefaultFrom: cfg.SMS.Twilio.DefaultFrom,
		AreaCode:    cfg.SMS.Twilio.AreaCode,
		WebhookURL:  cfg.SMS.Twilio.WebhookURL,
		RateLimit:   rate.Limit(cfg.SMS.Twilio.RateLimit),
	}, m))
	gateway.Register(sms.NewFonecloud(sms.FonecloudConfig{
		BaseURL:       cfg.SMS.Fonecloud.BaseURL,
		APIKey:        cfg.SMS.Fonecloud.APIKey,
		SigningSecret: cfg.SMS.Fonecloud.SigningSecret,
		RateLimit:     rate.Limit(cfg.SMS.Fonecloud.RateLimit),
	}, poolRepo, m))
	gateway.SetQueue(queue)
	gateway.SetResolver(publishingResolver(broker))

	senders := []channel.Sender{
		channel.NewEmailSender(channel.EmailConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
		}, m),
		channel.NewSMSSender(gateway, m),
	}
	renderer := render.New(cfg.Frontend.BaseURL)

	digestSvc := digest.NewService(digestRepo, prefRepo, deliveryRepo, senders, renderer, queue, log, m)
	dispatchSvc := dispatch.NewService(prefRepo, deliveryRepo, digestSvc, senders, renderer, broker, cfg.Dispatch.PreferenceCacheTTL, log, m)

	r := router.NewRouter(
		notificationHandler.NewHandler(dispatchSvc),
		smsHandler.NewHandler(gateway),
		handler.NewHealthHandler(db),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
	}

	go func() {
		log.Info("api server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "server failed")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error(err, "forced shutdown")
	}
}

func newRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// publishingResolver hands inbound SMS to the conversation pipeline over
// the broker. The conversation store consumes the topic downstream.
func publishingResolver(broker messaging.Broker) sms.ConversationResolver {
	return func(ctx context.Context, msg *model.InboundSMS) (sms.InboundResult, error) {
		if err := broker.Publish(ctx, "sms.inbound", messaging.Message{
			Type:    "inbound_sms",
			Payload: msg,
		}); err != nil {
			return sms.InboundResult{}, err
		}
		return sms.InboundResult{MessageID: uuid.New()}, nil
	}
}
