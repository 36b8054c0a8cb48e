package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"barter/internal/logger"
	"barter/internal/prices"
	"barter/internal/resolver"
	"barter/internal/service"
	"barter/internal/util"
)

// prints the current barter credit once and exits
func main() {
	pages := flag.Int("pages", 0, "coingecko pages to read, 0 uses the configured value")
	verbose := flag.Bool("v", false, "log progress to stderr")
	flag.Parse()

	cfg, err := util.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	if *pages > 0 {
		cfg.CoinGecko.Pages = *pages
	}
	cfg.Refresh.RefreshOnStart = false

	lg := logger.Nop()
	if *verbose {
		var sync func() error
		lg, sync = logger.New(false, cfg.LogLevel)
		defer sync()
	}

	client := prices.NewCoinGeckoClient(prices.CoinGeckoConfig{
		BaseURL:            cfg.CoinGecko.BaseURL,
		ApiKey:             cfg.CoinGecko.ApiKey,
		PerPage:            cfg.CoinGecko.PerPage,
		Pages:              cfg.CoinGecko.Pages,
		Timeout:            cfg.CoinGecko.Timeout,
		MinRequestInterval: cfg.CoinGecko.MinRequestInterval,
		MonthlyLimit:       cfg.CoinGecko.MonthlyLimit,
	}, lg)

	creditService := service.NewCreditService(*cfg, client, client.Usage, nil, nil, lg)
	defer creditService.Shutdown(context.Background())

	res, err := creditService.Refresh(context.Background())
	if err != nil {
		log.Fatal(err)
	}

	out := resolver.NewResolver(creditService).GetBarterCredit()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatal(err)
	}
	if res.Err != nil {
		os.Exit(1)
	}
}
