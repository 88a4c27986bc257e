package main

import (
	"context"
	"flag"
	"os"

	"cvillebots/lib/bsky"
	"cvillebots/lib/configutil"
	"cvillebots/lib/scrapers/cvillegis"
	"cvillebots/lib/serviceutil"
	"cvillebots/lib/sqliteutil"
	"cvillebots/lib/telemetry"
	"cvillebots/services/everylot"
	everylotdb "cvillebots/services/everylot/db"
)

type Config struct {
	Database    string `json:"database"`
	MapImageDir string `json:"map_image_dir"`
	BskyHost    string `json:"bsky_host"`
}

type Credentials struct {
	Identifier string `env:"BSKY_IDENTIFIER,required"`
	Password   string `env:"BSKY_PASSWORD,required"`
}

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	seed := flag.Bool("seed", false, "Refresh the parcel table from the GIS layer instead of posting.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	shutdown, err := telemetry.SetupOptional(ctx, "everylot", *verbose)
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	defer shutdown(context.Background())

	cfg, err := configutil.ReadConfig[Config]("everylot.json5")
	if err != nil && !os.IsNotExist(err) {
		serviceutil.Fatal("read config", err)
	}
	if cfg.Database == "" {
		cfg.Database = "everylot.db"
	}

	database, err := sqliteutil.OpenDB(everylotdb.Schema, cfg.Database)
	if err != nil {
		serviceutil.Fatal("open database", err)
	}
	defer database.Close()

	gis := cvillegis.NewClient(cvillegis.ClientOptions{})

	if *seed {
		svc := everylot.NewService(gis, database, nil, everylot.Options{})
		err = svc.Seed(ctx)
		if err != nil {
			serviceutil.Fatal("seed parcels", err)
		}
		return
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

	svc := everylot.NewService(gis, database, client, everylot.Options{
		MapImageDir: cfg.MapImageDir,
	})
	err = svc.Run(ctx)
	if err != nil {
		serviceutil.Fatal("run everylot", err)
	}
}
