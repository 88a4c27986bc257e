// Package cvillegis scrapes the Charlottesville open data GIS layers.
package cvillegis

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"cvillebots/lib/arcgis"
	"cvillebots/lib/htmlutil"
	"cvillebots/lib/restyutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scrapers/cvillegis")

const (
	DefaultSalesLayer      = "https://gisweb.charlottesville.org/arcgis/rest/services/OpenData_2/MapServer/3/query"
	DefaultDetailsLayer    = "https://gisweb.charlottesville.org/arcgis/rest/services/OpenData_1/MapServer/72/query"
	DefaultRealEstateLayer = "https://gisweb.charlottesville.org/arcgis/rest/services/OpenData_2/MapServer/17/query"
	DefaultViewerUrl       = "https://gisweb.charlottesville.org/GisViewer/ParcelViewer/Details"

	// the viewer page links photos off the real estate portal
	photoUrlSubstr = "realestate.charlottesville.org"
)

type ClientOptions struct {
	SalesLayer      string
	DetailsLayer    string
	RealEstateLayer string
	ViewerUrl       string
}

type Client struct {
	gis  *arcgis.Client
	http *resty.Client
	opts ClientOptions
}

func NewClient(opts ClientOptions) *Client {
	if opts.SalesLayer == "" {
		opts.SalesLayer = DefaultSalesLayer
	}
	if opts.DetailsLayer == "" {
		opts.DetailsLayer = DefaultDetailsLayer
	}
	if opts.RealEstateLayer == "" {
		opts.RealEstateLayer = DefaultRealEstateLayer
	}
	if opts.ViewerUrl == "" {
		opts.ViewerUrl = DefaultViewerUrl
	}

	client := resty.New()
	client.SetTimeout(time.Second * 30)
	restyutil.InstrumentClient(client, tracer, nil)

	return &Client{
		gis:  arcgis.NewClient(),
		http: client,
		opts: opts,
	}
}

type Sale struct {
	ParcelNumber string
	BookPage     string
	SaleAmount   int64
	SaleDate     time.Time
}

func saleFromFeature(f arcgis.Feature) Sale {
	return Sale{
		ParcelNumber: f.String("ParcelNumber"),
		BookPage:     f.String("BookPage"),
		SaleAmount:   f.Int64("SaleAmount"),
		SaleDate:     f.Time("SaleDate"),
	}
}

func (c *Client) SalesSince(ctx context.Context, start time.Time) ([]Sale, error) {
	features, err := c.gis.Query(ctx, c.opts.SalesLayer, arcgis.Query{
		Where: []string{
			fmt.Sprintf("SaleDate >= %s", arcgis.Timestamp(start)),
		},
	})
	if err != nil {
		return nil, err
	}
	sales := make([]Sale, len(features))
	for i, f := range features {
		sales[i] = saleFromFeature(f)
	}
	return sales, nil
}

// the most recent prior sale with a real price, or nil when the parcel
// has never sold before
func (c *Client) PreviousSale(ctx context.Context, parcelNumber string, before time.Time) (*Sale, error) {
	features, err := c.gis.Query(ctx, c.opts.SalesLayer, arcgis.Query{
		Where: []string{
			fmt.Sprintf("ParcelNumber = '%s'", parcelNumber),
			fmt.Sprintf("SaleDate < %s", arcgis.Timestamp(before)),
			"SaleAmount > 0",
		},
		OrderBy: "SaleDate desc",
	})
	if err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, nil
	}
	sale := saleFromFeature(features[0])
	return &sale, nil
}

func (c *Client) SalesByBookPage(ctx context.Context, bookPage string) ([]Sale, error) {
	features, err := c.gis.Query(ctx, c.opts.SalesLayer, arcgis.Query{
		Where: []string{
			fmt.Sprintf("BookPage = '%s'", bookPage),
		},
	})
	if err != nil {
		return nil, err
	}
	sales := make([]Sale, len(features))
	for i, f := range features {
		sales[i] = saleFromFeature(f)
	}
	return sales, nil
}

type Details struct {
	ParcelNumber string
	StreetNumber string
	StreetName   string
	Unit         string
	OwnerName    string
	Zoning       string
	Acreage      float64
	Assessment   int64
}

func (d Details) Address() string {
	address := fmt.Sprintf("%s %s", d.StreetNumber, d.StreetName)
	if d.Unit != "" {
		address = fmt.Sprintf("%s Unit %s", address, d.Unit)
	}
	return address
}

// Details asserts exactly one detail record exists for the parcel;
// anything else aborts processing of that parcel
func (c *Client) Details(ctx context.Context, parcelNumber string) (Details, error) {
	f, err := c.gis.QueryOne(ctx, c.opts.DetailsLayer, arcgis.Query{
		Where: []string{
			fmt.Sprintf("ParcelNumber = '%s'", parcelNumber),
		},
	})
	if err != nil {
		return Details{}, fmt.Errorf("details for %s: %w", parcelNumber, err)
	}
	return Details{
		ParcelNumber: f.String("ParcelNumber"),
		StreetNumber: f.String("StreetNumber"),
		StreetName:   f.String("StreetName"),
		Unit:         f.String("Unit"),
		OwnerName:    f.String("OwnerName"),
		Zoning:       f.String("Zoning"),
		Acreage:      f.Float64("Acreage"),
		Assessment:   f.Int64("Assessment"),
	}, nil
}

const parcelPageSize = 1000

// AllParcelNumbers walks the whole details layer page by page
func (c *Client) AllParcelNumbers(ctx context.Context) ([]string, error) {
	var out []string
	for offset := 0; ; offset += parcelPageSize {
		features, err := c.gis.Query(ctx, c.opts.DetailsLayer, arcgis.Query{
			Where:        []string{"1=1"},
			OutFields:    "ParcelNumber",
			OrderBy:      "ParcelNumber",
			ResultOffset: offset,
			ResultLimit:  parcelPageSize,
		})
		if err != nil {
			return nil, err
		}
		for _, f := range features {
			if number := f.String("ParcelNumber"); number != "" {
				out = append(out, number)
			}
		}
		if len(features) < parcelPageSize {
			return out, nil
		}
	}
}

// total finished square feet for a parcel.
//
// some parcels have multiple real estate records with different details;
// to be safe, report ok=false for parcels with ambiguous records rather
// than summing numbers that may describe the same building twice.
func (c *Client) SquareFeet(ctx context.Context, parcelNumber string) (int64, bool, error) {
	features, err := c.gis.Query(ctx, c.opts.RealEstateLayer, arcgis.Query{
		Where: []string{
			fmt.Sprintf("ParcelNumber = '%s'", parcelNumber),
		},
	})
	if err != nil {
		return 0, false, err
	}

	var withSquareFeet []arcgis.Feature
	for _, f := range features {
		finished, err := strconv.ParseInt(f.String("SquareFootageFinishedLiving"), 10, 64)
		if err == nil && finished > 0 {
			withSquareFeet = append(withSquareFeet, f)
		}
	}
	if len(withSquareFeet) != 1 {
		return 0, false, nil
	}

	squareFeet, _ := strconv.ParseInt(withSquareFeet[0].String("SquareFootageFinishedLiving"), 10, 64)
	basement, err := strconv.ParseInt(withSquareFeet[0].String("FinishedBasement"), 10, 64)
	if err == nil {
		squareFeet += basement
	}
	return squareFeet, true, nil
}

// Photo scrapes the parcel viewer page for the parcel's real estate
// photo and downloads it. a parcel without a photo is (nil, nil).
func (c *Client) Photo(ctx context.Context, parcelNumber string) ([]byte, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"Key":               parcelNumber,
			"SearchOptionIndex": "0",
			"DetailsTabIndex":   "0",
		}).
		Get(c.opts.ViewerUrl)
	if err != nil {
		return nil, err
	}
	if res.StatusCode() != 200 {
		return nil, fmt.Errorf("viewer page returned status %d", res.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return nil, err
	}

	urls := htmlutil.ImageSources(doc.Selection, photoUrlSubstr)
	if len(urls) == 0 {
		return nil, nil
	}

	image, err := c.gis.Fetch(ctx, urls[0])
	if err != nil {
		return nil, err
	}
	return image, nil
}
