// Package countygis scrapes the Albemarle County GIS bulk data exports
// and its web viewer's selection panel.
package countygis

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"cvillebots/lib/htmlutil"
	"cvillebots/lib/restyutil"
	"cvillebots/lib/timezone"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scrapers/countygis")

const (
	DefaultParcelsUrl      = "https://gisweb.albemarle.org/gisdata/CAMA/GIS_View_Redacted_ParcelInfo_TXT.zip"
	DefaultTransactionsUrl = "https://gisweb.albemarle.org/gisdata/CAMA/GIS_View_Redacted_VisionSales_TXT.zip"
	DefaultPanelUrl        = "https://gisweb.albemarle.org/gpv_51/Services/SelectionPanel.ashx"
)

type ClientOptions struct {
	ParcelsUrl      string
	TransactionsUrl string
	PanelUrl        string
}

type Client struct {
	http *resty.Client
	opts ClientOptions
}

func NewClient(opts ClientOptions) *Client {
	if opts.ParcelsUrl == "" {
		opts.ParcelsUrl = DefaultParcelsUrl
	}
	if opts.TransactionsUrl == "" {
		opts.TransactionsUrl = DefaultTransactionsUrl
	}
	if opts.PanelUrl == "" {
		opts.PanelUrl = DefaultPanelUrl
	}

	client := resty.New()
	// the bulk exports are tens of megabytes
	client.SetTimeout(time.Minute * 5)
	restyutil.InstrumentClient(client, tracer, nil)

	return &Client{http: client, opts: opts}
}

// the county publishes its CAMA tables as zipped CSV exports; each zip
// holds a single delimited text file with a header row
func readZippedCsv(data []byte) ([]map[string]string, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	if len(archive.File) == 0 {
		return nil, fmt.Errorf("archive holds no files")
	}

	fp, err := archive.File[0].Open()
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	reader := csv.NewReader(fp)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	var rows []map[string]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := map[string]string{}
		for i, value := range record {
			if i < len(header) {
				row[strings.TrimSpace(header[i])] = strings.TrimSpace(value)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	"1/2/2006",
	"01/02/2006 15:04:05",
}

func parseDate(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, value, timezone.Location)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", value)
}

func parseAmount(value string) int64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(f))
}

func (c *Client) fetchRows(ctx context.Context, url string) ([]map[string]string, error) {
	res, err := c.http.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return nil, err
	}
	if res.StatusCode() != 200 {
		return nil, fmt.Errorf("got unexpected status %d", res.StatusCode())
	}
	return readZippedCsv(res.Body())
}

type Transaction struct {
	ParcelId  string
	Owner     string
	SaleDate  time.Time
	SalePrice int64
	DeedBook  string
	DeedPage  string
}

// DedupKey is the ledger key for a transaction: the parcel plus the
// deed book/page it transferred under
func (t Transaction) DedupKey() string {
	return fmt.Sprintf("%s:%s:%s", t.ParcelId, t.DeedBook, t.DeedPage)
}

func (c *Client) Transactions(ctx context.Context) ([]Transaction, error) {
	rows, err := c.fetchRows(ctx, c.opts.TransactionsUrl)
	if err != nil {
		return nil, err
	}

	var out []Transaction
	for _, row := range rows {
		date, err := parseDate(row["saledate1"])
		if err != nil {
			// rows with no usable date can never pass the date window
			continue
		}
		out = append(out, Transaction{
			ParcelId:  row["mapblolot"],
			Owner:     row["currowner"],
			SaleDate:  date,
			SalePrice: parseAmount(row["saleprice"]),
			DeedBook:  row["deedbook"],
			DeedPage:  row["deedpage"],
		})
	}
	return out, nil
}

type Parcel struct {
	ParcelId   string
	PinShort   string
	Street     string
	City       string
	Zoning     string
	LotSize    string
	TotalValue int64
}

func (c *Client) Parcels(ctx context.Context) (map[string]Parcel, error) {
	rows, err := c.fetchRows(ctx, c.opts.ParcelsUrl)
	if err != nil {
		return nil, err
	}

	out := map[string]Parcel{}
	for _, row := range rows {
		parcel := Parcel{
			ParcelId:   row["ParcelID"],
			PinShort:   row["PIN_SHORT"],
			Street:     row["PropStreet"],
			City:       row["City"],
			Zoning:     row["Zoning"],
			LotSize:    row["LotSize"],
			TotalValue: parseAmount(row["TotalValue"]),
		}
		if parcel.ParcelId != "" {
			out[parcel.ParcelId] = parcel
		}
	}
	return out, nil
}

type Media struct {
	Photos   []string
	Sketches []string
	Scans    []string
}

func (c *Client) panelLinks(doc *goquery.Document, heading string) []string {
	var links []string
	doc.Find("div.RowSetHeader").Each(func(_ int, div *goquery.Selection) {
		if htmlutil.CleanText(div.Text()) != heading {
			return
		}
		div.Parent().Find("a").Each(func(_ int, a *goquery.Selection) {
			href := a.AttrOr("href", "")
			if href != "" {
				links = append(links, href)
			}
		})
	})
	return links
}

// ParcelMedia scrapes the viewer's selection panel for a parcel's
// photo, sketch, and scan links
func (c *Client) ParcelMedia(ctx context.Context, parcelId string) (Media, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"m":       "GetDataListHtml",
			"datatab": "ParcelPhoto",
			"id":      parcelId,
		}).
		Post(c.opts.PanelUrl)
	if err != nil {
		return Media{}, err
	}
	if res.StatusCode() != 200 {
		return Media{}, fmt.Errorf("selection panel returned status %d", res.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return Media{}, err
	}

	return Media{
		Photos:   c.panelLinks(doc, "Parcel Photos"),
		Sketches: c.panelLinks(doc, "Parcel Sketches"),
		Scans:    c.panelLinks(doc, "Parcel Scans"),
	}, nil
}

// FirstWorkingImage downloads the image from the first url that
// responds; the county data has the occasional dead link. all dead is
// (nil, nil).
func (c *Client) FirstWorkingImage(ctx context.Context, urls []string) ([]byte, error) {
	for _, url := range urls {
		res, err := c.http.R().
			SetContext(ctx).
			Get(url)
		if err != nil {
			slog.WarnContext(ctx, "failed to fetch image", "url", url, "err", err)
			continue
		}
		if res.StatusCode() != 200 {
			slog.WarnContext(ctx, "got unexpected status for image", "url", url, "status", res.StatusCode())
			continue
		}
		return res.Body(), nil
	}
	return nil, nil
}
