package main

import (
	"context"
	"errors"
	"flag"

	"cvillebots/lib/bsky"
	"cvillebots/lib/configutil"
	"cvillebots/lib/serviceutil"
	"cvillebots/lib/telemetry"
	"cvillebots/services/everydigest"
)

type Config struct {
	Digest   everydigest.Options `json:"digest"`
	BskyHost string              `json:"bsky_host"`
}

var errDigestRosterEmpty = errors.New("digest roster is empty")

type Credentials struct {
	Identifier string `env:"BSKY_IDENTIFIER,required"`
	Password   string `env:"BSKY_PASSWORD,required"`
}

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	shutdown, err := telemetry.SetupOptional(ctx, "everydigest", *verbose)
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	defer shutdown(context.Background())

	cfg, err := configutil.ReadConfig[Config]("everydigest.json5")
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	if len(cfg.Digest.Roster) == 0 {
		serviceutil.Fatal("read config", errDigestRosterEmpty)
	}

	creds, err := configutil.ReadEnv[Credentials]()
	if err != nil {
		serviceutil.Fatal("read credentials", err)
	}

	client := bsky.NewClient(cfg.BskyHost)
	err = client.Login(ctx, creds.Identifier, creds.Password)
	if err != nil {
		serviceutil.Fatal("bsky login", err)
	}

	svc := everydigest.NewService(client, client, cfg.Digest)
	err = svc.Run(ctx)
	if err != nil {
		serviceutil.Fatal("run everydigest", err)
	}
}
