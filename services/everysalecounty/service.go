// Package everysalecounty posts every county real estate transaction.
// the county export has no deed-grouped transaction id, so records are
// clustered by price, date, and a fuzzy owner-name match before posting
// each cluster as a thread.
package everysalecounty

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"cvillebots/lib/bsky"
	"cvillebots/lib/grouping"
	"cvillebots/lib/imaging"
	"cvillebots/lib/ledger"
	"cvillebots/lib/scrapers/countygis"
	"cvillebots/lib/statustext"
	"cvillebots/lib/textutil"
	"cvillebots/lib/timezone"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/everysalecounty")

type Publisher interface {
	Publish(ctx context.Context, post bsky.Post) (bsky.PostRef, error)
}

type Options struct {
	Lookback time.Duration
}

const DefaultLookback = time.Hour * 24 * 45

type Service struct {
	gis    *countygis.Client
	ledger *ledger.Ledger
	pub    Publisher
	opts   Options
}

func NewService(gis *countygis.Client, led *ledger.Ledger, pub Publisher, opts Options) Service {
	if opts.Lookback == 0 {
		opts.Lookback = DefaultLookback
	}
	return Service{
		gis:    gis,
		ledger: led,
		pub:    pub,
		opts:   opts,
	}
}

func (s Service) Run(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	transactions, err := s.gis.Transactions(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	parcels, err := s.gis.Parcels(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	// the export trails realtime, so look back well past the last run;
	// the ledger makes the overlap harmless. stop at the start of today
	// because today's rows may still be partially loaded.
	until := timezone.StartOfDay(timezone.Now())
	since := until.Add(-s.opts.Lookback)

	grouper := grouping.NewGrouper[countygis.Transaction](grouping.DefaultThreshold)
	kept := 0
	for _, tx := range transactions {
		if tx.SalePrice <= 0 {
			continue
		}
		if tx.SaleDate.Before(since) || !tx.SaleDate.Before(until) {
			continue
		}
		grouper.Add(ctx, grouping.Key{
			Price: tx.SalePrice,
			Date:  tx.SaleDate,
			Owner: textutil.NormalizeName(tx.Owner),
		}, tx)
		kept++
	}
	slog.InfoContext(ctx, "windowed transactions",
		"total", len(transactions), "kept", kept, "since", since, "until", until)

	for _, group := range grouper.Groups() {
		records := group.Records
		sort.Slice(records, func(i, j int) bool {
			return records[i].ParcelId < records[j].ParcelId
		})
		s.postGroup(ctx, records, parcels)
	}
	return nil
}

func (s Service) postGroup(ctx context.Context, group []countygis.Transaction, parcels map[string]countygis.Parcel) {
	var root, parent *bsky.PostRef

	for i, tx := range group {
		key := tx.DedupKey()

		posted, err := s.ledger.Has(ctx, key)
		if err != nil {
			slog.ErrorContext(ctx, "failed to check ledger", "key", key, "err", err)
			return
		}
		if posted {
			entry, err := s.ledger.Get(ctx, key)
			if err != nil {
				slog.ErrorContext(ctx, "failed to read ledger", "key", key, "err", err)
				return
			}
			if ref, ok := bsky.ParsePostRef(entry.PostRef); ok {
				parent = &ref
				if root == nil {
					root = &ref
				}
			}
			slog.DebugContext(ctx, "already posted", "key", key)
			continue
		}

		ref, err := s.postTransaction(ctx, tx, parcels[tx.ParcelId], i, len(group), root, parent)
		if err != nil {
			slog.WarnContext(ctx, "failed to post transaction", "key", key, "err", err)
			continue
		}

		if root == nil {
			root = &ref
		}
		entry := ledger.Entry{PostRef: ref.String(), ThreadRoot: root.String()}
		if parent != nil {
			entry.ThreadParent = parent.String()
		}
		err = s.ledger.Put(ctx, key, entry)
		if err != nil {
			slog.ErrorContext(ctx, "failed to write ledger", "key", key, "err", err)
			return
		}
		parent = &ref
	}
}

func (s Service) postTransaction(
	ctx context.Context,
	tx countygis.Transaction,
	parcel countygis.Parcel,
	index, total int,
	root, parent *bsky.PostRef,
) (bsky.PostRef, error) {
	ctx, span := tracer.Start(ctx, "postTransaction")
	defer span.End()

	text := statusText(tx, parcel)
	if total > 1 {
		text += fmt.Sprintf(" Parcel %d of %d.", index+1, total)
	}

	post := bsky.Post{
		Text:   text,
		Images: s.media(ctx, tx.ParcelId, parcel),
	}
	if parent != nil {
		threadRoot := parent
		if root != nil {
			threadRoot = root
		}
		post.Reply = &bsky.ReplyRef{Root: *threadRoot, Parent: *parent}
	}

	ref, err := s.pub.Publish(ctx, post)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return bsky.PostRef{}, err
	}
	return ref, nil
}

func statusText(tx countygis.Transaction, parcel countygis.Parcel) string {
	address := "no address"
	if parcel.Street != "" {
		address = parcel.Street
		if parcel.City != "" {
			address = fmt.Sprintf("%s, %s", address, parcel.City)
		}
	}

	pin := parcel.PinShort
	if pin == "" {
		pin = tx.ParcelId
	}

	text := fmt.Sprintf(
		"%s (parcel %s), %s on %s for %s.",
		address,
		pin,
		statustext.SoldClause(textutil.NormalizeName(tx.Owner)),
		tx.SaleDate.Format("January 2, 2006"),
		statustext.Dollars(tx.SalePrice),
	)

	if parcel.LotSize != "" {
		text += fmt.Sprintf(" %s acres.", parcel.LotSize)
	}
	if parcel.Zoning != "" {
		text += fmt.Sprintf(" Zoned %s.", parcel.Zoning)
	} else {
		text += " Zoning unknown."
	}
	if parcel.TotalValue > 0 {
		text += fmt.Sprintf(" Assessed at %s.", statustext.Dollars(parcel.TotalValue))
	}
	return text
}

func (s Service) media(ctx context.Context, parcelId string, parcel countygis.Parcel) []bsky.Image {
	media, err := s.gis.ParcelMedia(ctx, parcelId)
	if err != nil {
		slog.WarnContext(ctx, "failed to fetch parcel media", "parcel", parcelId, "err", err)
		return nil
	}

	// prefer an actual photo, fall back to the assessor's sketch
	urls := append(media.Photos, media.Sketches...)
	data, err := s.gis.FirstWorkingImage(ctx, urls)
	if err != nil {
		slog.WarnContext(ctx, "failed to fetch parcel image", "parcel", parcelId, "err", err)
		return nil
	}
	if data == nil {
		return nil
	}

	normalized, err := imaging.Normalize(data, imaging.DefaultMaxBytes)
	if err != nil {
		slog.WarnContext(ctx, "failed to normalize parcel image", "parcel", parcelId, "err", err)
		return nil
	}

	alt := "County assessor image of the parcel"
	if parcel.Street != "" {
		alt = fmt.Sprintf("County assessor image of %s", parcel.Street)
	}
	return []bsky.Image{{Data: normalized, Alt: alt}}
}
