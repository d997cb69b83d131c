package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/textback/notify-api/pkg/jobqueue"
	"github.com/textback/notify-api/pkg/logger"
	"github.com/textback/notify-api/pkg/metrics"

	"github.com/textback/notify-api/internal/channel"
	"github.com/textback/notify-api/internal/config"
	"github.com/textback/notify-api/internal/repository/postgres"
	"github.com/textback/notify-api/internal/service/digest"
	"github.com/textback/notify-api/internal/service/render"
	"github.com/textback/notify-api/internal/sms"
	"github.com/textback/notify-api/internal/worker"
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

	queueClient, err := newRedisClient(cfg.Redis.URL)
	if err != nil {
		log.Error(err, "failed to connect to redis")
		os.Exit(1)
	}
	defer queueClient.Close()
	queue := jobqueue.New(queueClient, jobqueue.Config{
		Key:        cfg.Worker.QueueKey,
		Visibility: cfg.Worker.JobVisibility,
	})

	m := metrics.NewMetrics("notify", "worker")

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

	w := worker.New(queue, worker.Config{
		PollInterval: cfg.Worker.PollInterval,
		BatchSize:    cfg.Worker.BatchSize,
		MaxAttempts:  cfg.Worker.MaxAttempts,
	}, log, m)
	w.Register(jobqueue.TypeFlushDigest, digestSvc.HandleQueuedFlush)
	w.Register(jobqueue.TypeSendSMS, gateway.HandleQueuedSend)

	startSidecar(cfg.Worker.HTTPPort, db, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error(err, "worker exited")
		os.Exit(1)
	}
}

// sidecarMux serves the worker's liveness, readiness, and metrics
// endpoints alongside the poll loop.
func sidecarMux(db *sqlx.DB) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func startSidecar(port int, db *sqlx.DB, log *logger.Logger) {
	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), sidecarMux(db)); err != nil {
			log.Error(err, "worker health server failed")
			os.Exit(1)
		}
	}()
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
