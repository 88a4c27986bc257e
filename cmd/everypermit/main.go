package main

import (
	"context"
	"flag"
	"os"
	"time"

	"cvillebots/lib/bsky"
	"cvillebots/lib/configutil"
	"cvillebots/lib/ledger"
	"cvillebots/lib/scrapers/permitportal"
	"cvillebots/lib/serviceutil"
	"cvillebots/lib/telemetry"
	"cvillebots/services/everypermit"
)

type Config struct {
	Ledger       string `json:"ledger"`
	PortalUrl    string `json:"portal_url"`
	UserAgent    string `json:"user_agent"`
	LookbackDays int    `json:"lookback_days"`
	BskyHost     string `json:"bsky_host"`
}

type Credentials struct {
	Identifier string `env:"BSKY_IDENTIFIER,required"`
	Password   string `env:"BSKY_PASSWORD,required"`
	Portal     everypermit.Credentials
}

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	shutdown, err := telemetry.SetupOptional(ctx, "everypermit", *verbose)
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	defer shutdown(context.Background())

	cfg, err := configutil.ReadConfig[Config]("everypermit.json5")
	if err != nil && !os.IsNotExist(err) {
		serviceutil.Fatal("read config", err)
	}
	if cfg.Ledger == "" {
		cfg.Ledger = "everypermit.db"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "cvillebots-everypermit/1.0 (+https://bsky.app/profile/everypermitcville.bsky.social)"
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

	portal, err := permitportal.NewClient(permitportal.ClientOptions{
		BaseUrl:   cfg.PortalUrl,
		UserAgent: cfg.UserAgent,
	})
	if err != nil {
		serviceutil.Fatal("init portal client", err)
	}

	client := bsky.NewClient(cfg.BskyHost)
	err = client.Login(ctx, creds.Identifier, creds.Password)
	if err != nil {
		serviceutil.Fatal("bsky login", err)
	}

	svc := everypermit.NewService(portal, led, client, creds.Portal, everypermit.Options{
		Lookback: time.Duration(cfg.LookbackDays) * 24 * time.Hour,
	})
	err = svc.Run(ctx)
	if err != nil {
		serviceutil.Fatal("run everypermit", err)
	}
}
