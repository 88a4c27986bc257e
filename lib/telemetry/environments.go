package telemetry

import (
	"context"
	"os"
	"testing"

	"cvillebots/lib/configutil"
)

var setupTestEnvironments = map[string]bool{}

// sets up telemetry in a testing environment, ensuring that it isn't
// set up more than once. when there is no telemetry.json5 in scope the
// test runs without exporters.
func SetupForTesting(t testing.TB, serviceName string) func() {
	setupAlready := setupTestEnvironments[serviceName]
	if setupAlready {
		return func() {}
	}
	setupTestEnvironments[serviceName] = true

	InitSlog(true)
	tel, err := SetupFromEnv(context.Background(), serviceName)
	if os.IsNotExist(err) {
		return func() {}
	}
	if err != nil {
		t.Fatal(err)
	}
	return func() {
		err := tel.Shutdown(context.Background())
		if err != nil {
			t.Fatal(err)
		}
	}
}

// SetupOptional initializes slog and, when a telemetry.json5 is in
// scope, the otel exporters. the bots run fine without any telemetry
// config, so a missing file is not an error. the returned function
// flushes and shuts exporters down.
func SetupOptional(ctx context.Context, serviceName string, verbose bool) (func(context.Context) error, error) {
	InitSlog(verbose)

	tel, err := SetupFromEnv(ctx, serviceName)
	if os.IsNotExist(err) {
		return func(context.Context) error { return nil }, nil
	}
	if err != nil {
		return nil, err
	}
	InstrumentPerfStats(ctx)
	return tel.Shutdown, nil
}

// searches up the filesystem from the cwd to find a file
// called telemetry.json5, once found it will then use it
// as a config to setup telemetry
func SetupFromEnv(ctx context.Context, serviceName string) (Telemetry, error) {
	config, err := configutil.ReadRecursively[Config]("telemetry.json5")
	if err != nil {
		return Telemetry{}, err
	}
	return Setup(ctx, serviceName, config)
}
