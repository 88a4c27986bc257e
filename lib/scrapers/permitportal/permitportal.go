// Package permitportal scrapes the city's permit/license citizen portal.
package permitportal

import (
	"bytes"
	"context"
	"fmt"
	"net/http/cookiejar"
	"strings"
	"time"

	"cvillebots/lib/htmlutil"
	"cvillebots/lib/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scrapers/permitportal")

const (
	DefaultBaseUrl = "https://cityviewportal.charlottesville.org"

	loginPath  = "/portal"
	searchPath = "/portal/SearchByNumber/Search"
	permitPath = "/portal/PermitInfo/Index"
)

type ClientOptions struct {
	BaseUrl string
	// sent on every request so the portal operators can tell who we are
	UserAgent string
}

type Client struct {
	http *resty.Client
	opts ClientOptions
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	if opts.UserAgent != "" {
		client.SetHeader("user-agent", opts.UserAgent)
	}
	client.SetTimeout(time.Second * 15)

	restyutil.InstrumentClient(client, tracer, nil)

	return &Client{http: client, opts: opts}, nil
}

// Login posts portal credentials. A successful login answers with a
// redirect; rejected credentials re-render the login form under a plain
// 200, so a 200 only counts when it sits behind a redirect.
func (c *Client) Login(ctx context.Context, username, password string) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(false).
		SetFormData(map[string]string{
			"LoginName": username,
			"Password":  password,
		}).
		SetHeader("accept", "text/html").
		Post(loginPath)
	if err != nil {
		return err
	}
	switch {
	case res.StatusCode() == 302:
		return nil
	case res.StatusCode() == 200 && loginRedirected(res):
		return nil
	case res.StatusCode() == 200:
		return fmt.Errorf("login form came back instead of a redirect; credentials rejected")
	default:
		return fmt.Errorf("got unexpected status code %d from login", res.StatusCode())
	}
}

// reports whether the response landed somewhere other than the login
// page after following redirects
func loginRedirected(res *resty.Response) bool {
	if res.RawResponse == nil || res.RawResponse.Request == nil {
		return false
	}
	return res.RawResponse.Request.URL.Path != loginPath
}

// a row of the portal's search result table, headings zipped to cells
type SearchResult map[string]string

func (r SearchResult) Id() string {
	// the portal renders ids as decimals, e.g. "101.0"
	id := r["Id"]
	if i := strings.IndexByte(id, '.'); i >= 0 {
		id = id[:i]
	}
	return id
}

func (c *Client) Search(ctx context.Context, from, to time.Time) ([]SearchResult, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"keyword":       "",
			"fromDateInput": from.Format("01-02-2006"),
			"toDateInput":   to.Format("01-02-2006"),
		}).
		Get(searchPath)
	if err != nil {
		return nil, err
	}
	if res.StatusCode() != 200 {
		return nil, fmt.Errorf("search returned status %d", res.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return nil, err
	}

	records := htmlutil.TableRecords(doc.Find("table#search-table"))
	results := make([]SearchResult, len(records))
	for i, record := range records {
		results[i] = SearchResult(record)
	}
	return results, nil
}

type Permit struct {
	// canonical portal url for the permit, included in posts
	Url string
	// the "Permit/License Info" block, label -> value
	Info map[string]string
	// the "Permit/License Details" table, description -> data.
	// DetailKeys preserves the portal's row order.
	Details    map[string]string
	DetailKeys []string
}

func (c *Client) Permit(ctx context.Context, permitId string) (Permit, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("caObjectId", permitId).
		Get(permitPath)
	if err != nil {
		return Permit{}, err
	}
	if res.StatusCode() != 200 {
		return Permit{}, fmt.Errorf("permit page returned status %d", res.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return Permit{}, err
	}

	permit := Permit{
		Url:     res.Request.URL,
		Info:    map[string]string{},
		Details: map[string]string{},
	}

	doc.Find("h5").Each(func(_ int, h5 *goquery.Selection) {
		heading := htmlutil.CleanText(h5.Text())
		switch {
		case strings.Contains(heading, "Permit/License Info"):
			h5.Parent().Find("p.font-13").Each(func(_ int, p *goquery.Selection) {
				label, value := splitInfoRow(htmlutil.CleanText(p.Text()))
				if label != "" {
					permit.Info[label] = value
				}
			})
		case strings.Contains(heading, "Permit/License Details"):
			for _, record := range htmlutil.TableRecords(h5.Parent().Find("table")) {
				description := record["Description"]
				if description == "" {
					continue
				}
				if _, seen := permit.Details[description]; !seen {
					permit.DetailKeys = append(permit.DetailKeys, description)
				}
				permit.Details[description] = record["Data"]
			}
		}
	})

	return permit, nil
}

func splitInfoRow(text string) (string, string) {
	parts := strings.SplitN(text, ":", 2)
	if len(parts) == 1 {
		return strings.TrimSpace(parts[0]), ""
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}
