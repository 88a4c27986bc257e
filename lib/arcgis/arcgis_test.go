package arcgis

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cvillebots/lib/timezone"

	"github.com/stretchr/testify/require"
)

func TestQuery(t *testing.T) {
	var gotWhere, gotOrder, gotFormat string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotWhere = r.URL.Query().Get("where")
		gotOrder = r.URL.Query().Get("orderByFields")
		gotFormat = r.URL.Query().Get("f")
		w.Write([]byte(`{
			"features": [
				{"attributes": {"ParcelNumber": "123", "SaleAmount": 425000, "SaleDate": 1704085200000}},
				{"attributes": {"ParcelNumber": "456", "SaleAmount": 0, "Unit": null}}
			]
		}`))
	}))
	defer server.Close()

	client := NewClient()
	features, err := client.Query(context.Background(), server.URL, Query{
		Where:   []string{"SaleAmount > 0", "ParcelNumber = '123'"},
		OrderBy: "SaleDate desc",
	})
	require.NoError(t, err)

	require.Equal(t, "SaleAmount > 0 AND ParcelNumber = '123'", gotWhere)
	require.Equal(t, "SaleDate desc", gotOrder)
	require.Equal(t, "json", gotFormat)

	require.Len(t, features, 2)
	require.Equal(t, "123", features[0].String("ParcelNumber"))
	require.Equal(t, int64(425000), features[0].Int64("SaleAmount"))
	require.Equal(t, 2024, features[0].Time("SaleDate").Year())
	require.Equal(t, "", features[1].String("Unit"))
}

func TestQueryError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": {"code": 400, "message": "Invalid query"}}`))
	}))
	defer server.Close()

	client := NewClient()
	_, err := client.Query(context.Background(), server.URL, Query{Where: []string{"bogus"}})
	require.ErrorContains(t, err, "Invalid query")
}

func TestQueryOne(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"features": [
			{"attributes": {"ParcelNumber": "123"}},
			{"attributes": {"ParcelNumber": "123"}}
		]}`))
	}))
	defer server.Close()

	client := NewClient()
	_, err := client.QueryOne(context.Background(), server.URL, Query{})
	require.ErrorContains(t, err, "expected 1 record; got 2")
}

func TestTimestamp(t *testing.T) {
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, timezone.Location)
	require.Equal(t, "TIMESTAMP '2024-06-01 00:00:00'", Timestamp(at))
}
