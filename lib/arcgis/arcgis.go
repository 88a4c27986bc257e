package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cvillebots/lib/restyutil"
	"cvillebots/lib/timezone"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("lib/arcgis")

// Client queries ArcGIS MapServer REST layers. each layer is addressed by
// its full query url, e.g.
// https://gisweb.charlottesville.org/arcgis/rest/services/OpenData_2/MapServer/3/query
type Client struct {
	http *resty.Client
}

var instrumentOutput restyutil.InstrumentOutput

func SetRestyInstrumentOutput(output restyutil.InstrumentOutput) {
	instrumentOutput = output
}

func NewClient() *Client {
	client := resty.New()
	client.SetTimeout(time.Second * 30)
	restyutil.InstrumentClient(client, tracer, instrumentOutput)
	return &Client{http: client}
}

// a single feature's attribute record: flat field name -> scalar value,
// verbatim from the upstream service
type Feature map[string]any

func (f Feature) String(key string) string {
	switch v := f[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%v", v)
	default:
		return ""
	}
}

func (f Feature) Int64(key string) int64 {
	switch v := f[key].(type) {
	case float64:
		return int64(v)
	case string:
		var out int64
		fmt.Sscanf(v, "%d", &out)
		return out
	default:
		return 0
	}
}

func (f Feature) Float64(key string) float64 {
	v, _ := f[key].(float64)
	return v
}

// ArcGIS encodes dates as epoch milliseconds
func (f Feature) Time(key string) time.Time {
	millis := f.Int64(key)
	return time.UnixMilli(millis).In(timezone.Location)
}

type Query struct {
	// clauses joined with AND
	Where     []string
	OrderBy   string
	OutFields string
	// pagination; layers cap how many records one query may return
	ResultOffset int
	ResultLimit  int
}

type queryResponse struct {
	Features []struct {
		Attributes Feature `json:"attributes"`
	} `json:"features"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// renders a time the way ArcGIS `where` clauses expect
func Timestamp(t time.Time) string {
	return fmt.Sprintf("TIMESTAMP '%s'", t.Format("2006-01-02 15:04:05"))
}

func (c *Client) Query(ctx context.Context, layer string, q Query) ([]Feature, error) {
	outFields := q.OutFields
	if outFields == "" {
		outFields = "*"
	}
	params := map[string]string{
		"where":     strings.Join(q.Where, " AND "),
		"outFields": outFields,
		"f":         "json",
	}
	if q.OrderBy != "" {
		params["orderByFields"] = q.OrderBy
	}
	if q.ResultOffset > 0 {
		params["resultOffset"] = fmt.Sprintf("%d", q.ResultOffset)
	}
	if q.ResultLimit > 0 {
		params["resultRecordCount"] = fmt.Sprintf("%d", q.ResultLimit)
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Post(layer)
	if err != nil {
		return nil, err
	}
	if res.StatusCode() != 200 {
		return nil, fmt.Errorf("layer query returned status %d", res.StatusCode())
	}

	var decoded queryResponse
	err = json.Unmarshal(res.Body(), &decoded)
	if err != nil {
		return nil, err
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf(
			"layer query failed: code=%d %s",
			decoded.Error.Code, decoded.Error.Message,
		)
	}

	features := make([]Feature, len(decoded.Features))
	for i, f := range decoded.Features {
		features[i] = f.Attributes
	}
	return features, nil
}

// Query that asserts the layer holds exactly one matching record
func (c *Client) QueryOne(ctx context.Context, layer string, q Query) (Feature, error) {
	features, err := c.Query(ctx, layer, q)
	if err != nil {
		return nil, err
	}
	if len(features) != 1 {
		return nil, fmt.Errorf("expected 1 record; got %d", len(features))
	}
	return features[0], nil
}

// fetches a url's raw body, used for image downloads
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	res, err := c.http.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return nil, err
	}
	if res.StatusCode() != 200 {
		return nil, fmt.Errorf("got unexpected status %d", res.StatusCode())
	}
	return res.Body(), nil
}
