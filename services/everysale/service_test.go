package everysale

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cvillebots/lib/bsky"
	"cvillebots/lib/ledger"
	ledgerdb "cvillebots/lib/ledger/db"
	"cvillebots/lib/scrapers/cvillegis"
	"cvillebots/lib/testutil"
	"cvillebots/lib/timezone"

	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	posts []bsky.Post
	refs  []bsky.PostRef
}

func (p *fakePublisher) Publish(ctx context.Context, post bsky.Post) (bsky.PostRef, error) {
	p.posts = append(p.posts, post)
	ref := bsky.PostRef{
		Uri: fmt.Sprintf("at://did:plc:test/app.bsky.feed.post/%d", len(p.posts)),
		Cid: fmt.Sprintf("cid%d", len(p.posts)),
	}
	p.refs = append(p.refs, ref)
	return ref, nil
}

func features(attrs ...map[string]any) []byte {
	type feature struct {
		Attributes map[string]any `json:"attributes"`
	}
	wrapped := make([]feature, len(attrs))
	for i, a := range attrs {
		wrapped[i] = feature{Attributes: a}
	}
	out, err := json.Marshal(map[string]any{"features": wrapped})
	if err != nil {
		panic(err)
	}
	return out
}

func millis(year int, month time.Month, day int) int64 {
	return time.Date(year, month, day, 0, 0, 0, 0, timezone.Location).UnixMilli()
}

func setupService(t *testing.T) (Service, *fakePublisher) {
	result, cleanup := testutil.SetupBot(t, testutil.BotParams{
		Name:     "everysale",
		DbSchema: ledgerdb.Schema,
	})
	t.Cleanup(cleanup)

	saleDate := millis(2026, time.August, 20)
	prevDate := millis(2019, time.March, 4)

	mux := http.NewServeMux()
	mux.HandleFunc("/sales", func(w http.ResponseWriter, r *http.Request) {
		where := r.URL.Query().Get("where")
		switch {
		case strings.Contains(where, "SaleDate >="):
			w.Write(features(
				map[string]any{"ParcelNumber": "100", "BookPage": "55:123", "SaleAmount": 500000, "SaleDate": saleDate},
				map[string]any{"ParcelNumber": "200", "BookPage": "60:9", "SaleAmount": 900000, "SaleDate": saleDate},
				map[string]any{"ParcelNumber": "201", "BookPage": "60:9", "SaleAmount": 900000, "SaleDate": saleDate},
				map[string]any{"ParcelNumber": "300", "BookPage": "61:1", "SaleAmount": 0, "SaleDate": saleDate},
			))
		case strings.Contains(where, "ParcelNumber = '100'"):
			w.Write(features(
				map[string]any{"ParcelNumber": "100", "BookPage": "40:77", "SaleAmount": 123456, "SaleDate": prevDate},
			))
		default:
			w.Write(features())
		}
	})
	mux.HandleFunc("/details", func(w http.ResponseWriter, r *http.Request) {
		where := r.URL.Query().Get("where")
		for _, d := range []map[string]any{
			{"ParcelNumber": "100", "StreetNumber": "500", "StreetName": "PARK ST", "Unit": "", "OwnerName": "ACME HOLDINGS LLC", "Zoning": "R-A", "Assessment": 480000},
			{"ParcelNumber": "200", "StreetNumber": "12", "StreetName": "MAIN ST", "Unit": "", "OwnerName": "SMITH JOHN", "Zoning": "B-2", "Assessment": 700000},
			{"ParcelNumber": "201", "StreetNumber": "14", "StreetName": "MAIN ST", "Unit": "", "OwnerName": "SMITH JOHN", "Zoning": "B-2", "Assessment": 650000},
		} {
			if strings.Contains(where, fmt.Sprintf("'%s'", d["ParcelNumber"])) {
				w.Write(features(d))
				return
			}
		}
		w.Write(features())
	})
	mux.HandleFunc("/realestate", func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Query().Get("where"), "'100'") {
			w.Write(features(
				map[string]any{"ParcelNumber": "100", "SquareFootageFinishedLiving": "2000", "FinishedBasement": "1000"},
			))
			return
		}
		w.Write(features())
	})
	mux.HandleFunc("/viewer", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>no photos</p></body></html>"))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	gis := cvillegis.NewClient(cvillegis.ClientOptions{
		SalesLayer:      server.URL + "/sales",
		DetailsLayer:    server.URL + "/details",
		RealEstateLayer: server.URL + "/realestate",
		ViewerUrl:       server.URL + "/viewer",
	})

	pub := &fakePublisher{}
	svc := NewService(gis, ledger.New(result.DB), pub, Options{
		Lookback: time.Hour * 24 * 365 * 10,
	})
	return svc, pub
}

func TestRun(t *testing.T) {
	svc, pub := setupService(t)
	ctx := context.Background()

	require.NoError(t, svc.Run(ctx))
	require.Len(t, pub.posts, 3)

	single := pub.posts[0]
	// $500,000 over 3,000 square feet rounds up to $167
	require.Equal(
		t,
		"500 PARK ST, sold to ACME HOLDINGS LLC on August 20, 2026 for $500,000. "+
			"Zoned R-A, assessed at $480,000. $167 per square foot. "+
			"Last sold in 2019 for $123,456.",
		single.Text,
	)
	require.Nil(t, single.Reply)

	first := pub.posts[1]
	second := pub.posts[2]
	require.Contains(t, first.Text, "12 MAIN ST, sold on August 20, 2026 for $900,000.")
	require.Contains(t, first.Text, "Parcel 1 of 2.")
	require.NotContains(t, first.Text, "per square foot")
	require.Contains(t, second.Text, "Parcel 2 of 2.")
	require.NotNil(t, second.Reply)
	require.Equal(t, pub.refs[1], second.Reply.Parent)
	require.Equal(t, pub.refs[1], second.Reply.Root)

	// the zero-amount sale never shows up
	for _, post := range pub.posts {
		require.NotContains(t, post.Text, "$0")
	}
}

func TestRunIsIdempotent(t *testing.T) {
	svc, pub := setupService(t)
	ctx := context.Background()

	require.NoError(t, svc.Run(ctx))
	posted := len(pub.posts)
	require.NoError(t, svc.Run(ctx))
	require.Len(t, pub.posts, posted)
}
