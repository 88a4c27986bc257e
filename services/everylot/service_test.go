package everylot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cvillebots/lib/bsky"
	"cvillebots/lib/scrapers/cvillegis"
	"cvillebots/lib/testutil"
	"cvillebots/lib/timezone"
	"cvillebots/services/everylot/db"

	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	posts []bsky.Post
}

func (p *fakePublisher) Publish(ctx context.Context, post bsky.Post) (bsky.PostRef, error) {
	p.posts = append(p.posts, post)
	return bsky.PostRef{
		Uri: fmt.Sprintf("at://did:plc:test/app.bsky.feed.post/%d", len(p.posts)),
		Cid: fmt.Sprintf("cid%d", len(p.posts)),
	}, nil
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

func setupService(t *testing.T) (Service, *fakePublisher) {
	result, cleanup := testutil.SetupBot(t, testutil.BotParams{
		Name:     "everylot",
		DbSchema: db.Schema,
	})
	t.Cleanup(cleanup)

	prevDate := time.Date(2019, time.March, 4, 0, 0, 0, 0, timezone.Location).UnixMilli()

	mux := http.NewServeMux()
	mux.HandleFunc("/sales", func(w http.ResponseWriter, r *http.Request) {
		where := r.URL.Query().Get("where")
		switch {
		case strings.Contains(where, "BookPage = '70:1'"):
			w.Write(features(
				map[string]any{"ParcelNumber": "100", "BookPage": "70:1", "SaleAmount": 123456, "SaleDate": prevDate},
				map[string]any{"ParcelNumber": "101", "BookPage": "70:1", "SaleAmount": 123456, "SaleDate": prevDate},
				map[string]any{"ParcelNumber": "102", "BookPage": "70:1", "SaleAmount": 123456, "SaleDate": prevDate},
			))
		case strings.Contains(where, "ParcelNumber = '100'") && strings.Contains(where, "SaleDate <"):
			w.Write(features(
				map[string]any{"ParcelNumber": "100", "BookPage": "70:1", "SaleAmount": 123456, "SaleDate": prevDate},
			))
		case strings.Contains(where, "ParcelNumber = '300'") && strings.Contains(where, "SaleDate <"):
			w.Write(features(
				map[string]any{"ParcelNumber": "300", "BookPage": "0:0", "SaleAmount": 99000, "SaleDate": prevDate},
			))
		default:
			w.Write(features())
		}
	})
	mux.HandleFunc("/details", func(w http.ResponseWriter, r *http.Request) {
		where := r.URL.Query().Get("where")
		if where == "1=1" {
			w.Write(features(
				map[string]any{"ParcelNumber": "100"},
				map[string]any{"ParcelNumber": "200"},
				map[string]any{"ParcelNumber": "300"},
			))
			return
		}
		switch {
		case strings.Contains(where, "'100'"):
			w.Write(features(map[string]any{
				"ParcelNumber": "100", "StreetNumber": "500", "StreetName": "PARK ST",
				"OwnerName": "ACME HOLDINGS LLC", "Zoning": "R-A", "Acreage": 0.25, "Assessment": 480000,
			}))
		case strings.Contains(where, "'200'"):
			w.Write(features(map[string]any{
				"ParcelNumber": "200", "StreetNumber": "12", "StreetName": "MAIN ST",
				"OwnerName": "SMITH JOHN", "Zoning": "B-2", "Assessment": 700000,
			}))
		case strings.Contains(where, "'300'"):
			w.Write(features(map[string]any{
				"ParcelNumber": "300", "StreetNumber": "9", "StreetName": "OAK LN",
				"OwnerName": "DOE JANE", "Zoning": "R-1", "Assessment": 300000,
			}))
		default:
			w.Write(features())
		}
	})
	mux.HandleFunc("/realestate", func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Query().Get("where"), "'100'") {
			w.Write(features(
				map[string]any{"ParcelNumber": "100", "SquareFootageFinishedLiving": "2000", "FinishedBasement": "500"},
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

	mapDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(mapDir, "100.jpg"), []byte("not a real jpeg"), 0644))

	pub := &fakePublisher{}
	svc := NewService(gis, result.DB, pub, Options{MapImageDir: mapDir})
	return svc, pub
}

func TestSeedAndRun(t *testing.T) {
	svc, pub := setupService(t)
	ctx := context.Background()

	require.NoError(t, svc.Seed(ctx))

	require.NoError(t, svc.Run(ctx))
	require.Len(t, pub.posts, 1)
	require.Equal(
		t,
		"500 PARK ST. Zoned R-A, 0.25 acres, 2,500 finished square feet, "+
			"assessed at $480,000. "+
			"Last sold to ACME HOLDINGS LLC in 2019 for $123,456 (3 parcels).",
		pub.posts[0].Text,
	)
	require.Len(t, pub.posts[0].Images, 1)
	require.Equal(t, "Map of the area around 500 PARK ST", pub.posts[0].Images[0].Alt)

	require.NoError(t, svc.Run(ctx))
	require.Len(t, pub.posts, 2)
	require.Equal(t, "12 MAIN ST. Zoned B-2, assessed at $700,000.", pub.posts[1].Text)

	// a previous sale recorded under book/page "0:0" has no deed behind
	// it, so the status gets no sale history at all
	require.NoError(t, svc.Run(ctx))
	require.Len(t, pub.posts, 3)
	require.Equal(t, "9 OAK LN. Zoned R-1, assessed at $300,000.", pub.posts[2].Text)

	// the roll is exhausted; further runs post nothing
	require.NoError(t, svc.Run(ctx))
	require.Len(t, pub.posts, 3)
}

func TestReseedKeepsPostedFlags(t *testing.T) {
	svc, pub := setupService(t)
	ctx := context.Background()

	require.NoError(t, svc.Seed(ctx))
	require.NoError(t, svc.Run(ctx))
	require.Len(t, pub.posts, 1)

	// reseeding must not resurrect already-posted parcels
	require.NoError(t, svc.Seed(ctx))
	require.NoError(t, svc.Run(ctx))
	require.NoError(t, svc.Run(ctx))
	require.NoError(t, svc.Run(ctx))
	require.Len(t, pub.posts, 3)
}
