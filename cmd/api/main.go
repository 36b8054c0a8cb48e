package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"barter/api"
	"barter/internal/logger"
	"barter/internal/metrics"
	"barter/internal/prices"
	"barter/internal/publisher"
	"barter/internal/resolver"
	"barter/internal/service"
	"barter/internal/util"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg, err := util.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	lg, sync := logger.New(cfg.IsProduction(), cfg.LogLevel)
	defer sync()

	lg.Info("starting barter credit api",
		"env", cfg.Env,
		"port", cfg.Port,
		"updateInterval", cfg.Refresh.Interval.String(),
		"cacheTTL", cfg.Refresh.CacheTTL.String(),
		"minPrice", cfg.Credit.MinPrice.String(),
		"pages", cfg.CoinGecko.Pages,
		"coingeckoKey", util.MaskKey(cfg.CoinGecko.ApiKey),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	client := prices.NewCoinGeckoClient(prices.CoinGeckoConfig{
		BaseURL:            cfg.CoinGecko.BaseURL,
		ApiKey:             cfg.CoinGecko.ApiKey,
		PerPage:            cfg.CoinGecko.PerPage,
		Pages:              cfg.CoinGecko.Pages,
		Timeout:            cfg.CoinGecko.Timeout,
		MinRequestInterval: cfg.CoinGecko.MinRequestInterval,
		MonthlyLimit:       cfg.CoinGecko.MonthlyLimit,
	}, lg)

	publishers := []publisher.Publisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publishers = append(publishers, publisher.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		lg.Info("publishing credit events to kafka", "topic", cfg.Kafka.Topic)
	}
	if cfg.SQS.QueueURL != "" {
		sqsPublisher, err := publisher.NewSQSPublisher(cfg.SQS.Region, cfg.SQS.QueueURL)
		if err != nil {
			log.Fatal(err)
		}
		publishers = append(publishers, sqsPublisher)
		lg.Info("publishing credit events to sqs", "queue", cfg.SQS.QueueURL)
	}

	creditService := service.NewCreditService(*cfg, client, client.Usage, m, publishers, lg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = creditService.Init(ctx)
	if err != nil {
		log.Fatal(err)
	}

	r := resolver.NewResolver(creditService)
	router := api.NewRouter(r, api.Options{
		AllowedOrigins: cfg.Api.AllowedOrigins,
		BlockedIPs:     cfg.Api.BlockedIPs,
		Production:     cfg.IsProduction(),
		Gatherer:       reg,
		Metrics:        m,
		Log:            lg,
	})

	err = api.StartApi(ctx, cfg.Port, router, lg)
	if err != nil {
		lg.Error("api stopped", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := creditService.Shutdown(shutdownCtx); err != nil {
		lg.Error("unclean shutdown", "error", err)
	}
	lg.Info("bye")
}
