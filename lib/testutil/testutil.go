package testutil

import (
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"cvillebots/lib/telemetry"

	_ "modernc.org/sqlite"
)

type BotParams struct {
	Name string
	// if unspecified, it will skip setting up a db
	DbSchema string
	// if unspecified, it will use `:memory:`
	DbPath string
}

type BotResult struct {
	DB *sql.DB
}

func SetupBot(t testing.TB, params BotParams) (BotResult, func()) {
	cleanup := telemetry.SetupForTesting(t, fmt.Sprintf("test:%s", params.Name))

	var sqlite *sql.DB
	if params.DbSchema != "" {
		dbpath := params.DbPath
		if dbpath == "" {
			dbpath = ":memory:"
		}
		var err error
		sqlite, err = sql.Open("sqlite", dbpath)
		if err != nil {
			t.Fatal(err)
		}
		_, err = sqlite.Exec(params.DbSchema)
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			t.Fatal(err)
		}
	}

	return BotResult{
		DB: sqlite,
	}, cleanup
}
