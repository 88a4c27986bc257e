// Package everylot posts one city parcel per run, walking the whole
// parcel roll in parcel-number order.
package everylot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cvillebots/lib/bsky"
	"cvillebots/lib/imaging"
	"cvillebots/lib/scrapers/cvillegis"
	"cvillebots/lib/statustext"
	"cvillebots/lib/timezone"
	"cvillebots/services/everylot/db"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/everylot")

type Publisher interface {
	Publish(ctx context.Context, post bsky.Post) (bsky.PostRef, error)
}

type Options struct {
	// directory of pre-rendered parcel map images, <parcel>.jpg
	MapImageDir string
}

type Service struct {
	gis  *cvillegis.Client
	qry  *db.Queries
	pub  Publisher
	opts Options
}

func NewService(gis *cvillegis.Client, database *sql.DB, pub Publisher, opts Options) Service {
	return Service{
		gis:  gis,
		qry:  db.New(database),
		pub:  pub,
		opts: opts,
	}
}

// Seed fills the parcel table from the details layer. existing rows keep
// their posted flag, so reseeding only picks up new parcels.
func (s Service) Seed(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Seed")
	defer span.End()

	numbers, err := s.gis.AllParcelNumbers(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	for _, number := range numbers {
		err := s.qry.CreateParcel(ctx, number)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	remaining, err := s.qry.CountUnposted(ctx)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "seeded parcels", "total", len(numbers), "unposted", remaining)
	return nil
}

// Run posts the next unposted parcel and marks it. the posted flag only
// flips after a successful post, so a failed run retries the same parcel.
func (s Service) Run(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	parcelNumber, err := s.qry.NextUnposted(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		slog.InfoContext(ctx, "every parcel has been posted")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	details, err := s.gis.Details(ctx, parcelNumber)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	post := bsky.Post{
		Text:   s.statusText(ctx, details),
		Images: s.media(ctx, parcelNumber, details.Address()),
	}
	ref, err := s.pub.Publish(ctx, post)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	slog.InfoContext(ctx, "posted parcel", "parcel", parcelNumber, "uri", ref.Uri)

	return s.qry.MarkPosted(ctx, db.MarkPostedParams{
		ParcelNumber: parcelNumber,
		PostedAt:     timezone.Now().Unix(),
	})
}

func (s Service) statusText(ctx context.Context, details cvillegis.Details) string {
	var facts []string
	if details.Zoning != "" {
		facts = append(facts, fmt.Sprintf("Zoned %s", details.Zoning))
	}
	if details.Acreage > 0 {
		facts = append(facts, fmt.Sprintf("%.2f acres", details.Acreage))
	}

	squareFeet, ok, err := s.gis.SquareFeet(ctx, details.ParcelNumber)
	if err != nil {
		slog.WarnContext(ctx, "failed to fetch square footage", "parcel", details.ParcelNumber, "err", err)
	} else if ok && squareFeet > 0 {
		facts = append(facts, fmt.Sprintf("%s finished square feet", statustext.Comma(squareFeet)))
	}
	facts = append(facts, fmt.Sprintf("assessed at %s", statustext.Dollars(details.Assessment)))

	text := fmt.Sprintf("%s. %s.", details.Address(), strings.Join(facts, ", "))

	if clause := s.previousSaleClause(ctx, details); clause != "" {
		text += " " + clause
	}
	return text
}

func (s Service) previousSaleClause(ctx context.Context, details cvillegis.Details) string {
	previous, err := s.gis.PreviousSale(ctx, details.ParcelNumber, timezone.Now())
	if err != nil {
		slog.WarnContext(ctx, "failed to fetch previous sale", "parcel", details.ParcelNumber, "err", err)
		return ""
	}
	if previous == nil {
		return ""
	}
	// "0:0" is the source's stand-in for no recorded book/page; a sale
	// with no deed behind it is not worth reporting
	if previous.BookPage == "" || previous.BookPage == "0:0" {
		return ""
	}

	// count siblings that transferred under the same deed
	parcelCount := 1
	siblings, err := s.gis.SalesByBookPage(ctx, previous.BookPage)
	if err != nil {
		slog.WarnContext(ctx, "failed to count deed siblings", "parcel", details.ParcelNumber, "err", err)
	} else if len(siblings) > 1 {
		parcelCount = len(siblings)
	}

	return statustext.FormatPreviousSale(
		details.OwnerName,
		previous.SaleDate.Year(),
		previous.SaleAmount,
		parcelCount,
	)
}

func (s Service) media(ctx context.Context, parcelNumber, address string) []bsky.Image {
	var images []bsky.Image

	photo, err := s.gis.Photo(ctx, parcelNumber)
	if err != nil {
		slog.WarnContext(ctx, "failed to fetch parcel photo", "parcel", parcelNumber, "err", err)
	} else if photo != nil {
		normalized, err := imaging.Normalize(photo, imaging.DefaultMaxBytes)
		if err != nil {
			slog.WarnContext(ctx, "failed to normalize parcel photo", "parcel", parcelNumber, "err", err)
		} else {
			images = append(images, bsky.Image{
				Data: normalized,
				Alt:  fmt.Sprintf("Photo of %s", address),
			})
		}
	}

	if s.opts.MapImageDir != "" {
		mapImage, err := os.ReadFile(filepath.Join(s.opts.MapImageDir, parcelNumber+".jpg"))
		if err == nil {
			images = append(images, bsky.Image{
				Data: mapImage,
				Alt:  fmt.Sprintf("Map of the area around %s", address),
			})
		}
	}
	return images
}
