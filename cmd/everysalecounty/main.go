package main

import (
	"context"
	"flag"
	"os"
	"time"

	"cvillebots/lib/bsky"
	"cvillebots/lib/configutil"
	"cvillebots/lib/ledger"
	"cvillebots/lib/scrapers/countygis"
	"cvillebots/lib/serviceutil"
	"cvillebots/lib/telemetry"
	"cvillebots/services/everysalecounty"
)

type Config struct {
	Ledger       string `json:"ledger"`
	LookbackDays int    `json:"lookback_days"`
	BskyHost     string `json:"bsky_host"`
}

type Credentials struct {
	Identifier string `env:"BSKY_IDENTIFIER,required"`
	Password   string `env:"BSKY_PASSWORD,required"`
}

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	shutdown, err := telemetry.SetupOptional(ctx, "everysalecounty", *verbose)
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	defer shutdown(context.Background())

	cfg, err := configutil.ReadConfig[Config]("everysalecounty.json5")
	if err != nil && !os.IsNotExist(err) {
		serviceutil.Fatal("read config", err)
	}
	if cfg.Ledger == "" {
		cfg.Ledger = "everysalecounty.db"
	}

	creds, err := configutil.ReadEnv[Credentials]()
	if err != nil {
		serviceutil.Fatal("read credentials", err)
	}

	led, err := ledger.Open(cfg.Ledger)
	if err != nil {
		serviceutil.Fatal("open ledger", err)
	}
	defer led.Close()

	client := bsky.NewClient(cfg.BskyHost)
	err = client.Login(ctx, creds.Identifier, creds.Password)
	if err != nil {
		serviceutil.Fatal("bsky login", err)
	}

	svc := everysalecounty.NewService(
		countygis.NewClient(countygis.ClientOptions{}),
		led,
		client,
		everysalecounty.Options{
			Lookback: time.Duration(cfg.LookbackDays) * 24 * time.Hour,
		},
	)
	err = svc.Run(ctx)
	if err != nil {
		serviceutil.Fatal("run everysalecounty", err)
	}
}
