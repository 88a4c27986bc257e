// Package everysale posts every city real estate sale, one post per
// parcel, threaded by deed book/page so multi-parcel transactions read
// as one conversation.
package everysale

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"cvillebots/lib/bsky"
	"cvillebots/lib/imaging"
	"cvillebots/lib/ledger"
	"cvillebots/lib/scrapers/cvillegis"
	"cvillebots/lib/statustext"
	"cvillebots/lib/timezone"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/everysale")

type Publisher interface {
	Publish(ctx context.Context, post bsky.Post) (bsky.PostRef, error)
}

type Options struct {
	// how far back each run looks for sales; records already in the
	// ledger are skipped so overlap between runs is harmless
	Lookback time.Duration
	// directory of pre-rendered parcel map images, <parcel>.jpg
	MapImageDir string
}

const DefaultLookback = time.Hour * 24 * 30

type Service struct {
	gis    *cvillegis.Client
	ledger *ledger.Ledger
	pub    Publisher
	opts   Options
}

func NewService(gis *cvillegis.Client, led *ledger.Ledger, pub Publisher, opts Options) Service {
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

func saleKey(s cvillegis.Sale) string {
	return fmt.Sprintf("%s:%s", s.ParcelNumber, s.BookPage)
}

func (s Service) Run(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	start := timezone.StartOfDay(timezone.Now().Add(-s.opts.Lookback))
	sales, err := s.gis.SalesSince(ctx, start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	slog.InfoContext(ctx, "fetched sales", "count", len(sales), "since", start)

	// one thread per deed book/page, parcels in parcel-number order
	groups := map[string][]cvillegis.Sale{}
	var order []string
	for _, sale := range sales {
		if _, seen := groups[sale.BookPage]; !seen {
			order = append(order, sale.BookPage)
		}
		groups[sale.BookPage] = append(groups[sale.BookPage], sale)
	}

	for _, bookPage := range order {
		group := groups[bookPage]
		sort.Slice(group, func(i, j int) bool {
			return group[i].ParcelNumber < group[j].ParcelNumber
		})
		s.postGroup(ctx, group)
	}
	return nil
}

// postGroup posts one transaction's parcels as a reply thread. a failed
// parcel is logged and skipped; it stays out of the ledger so the next
// run retries it.
func (s Service) postGroup(ctx context.Context, group []cvillegis.Sale) {
	var root, parent *bsky.PostRef

	for i, sale := range group {
		key := saleKey(sale)

		posted, err := s.ledger.Has(ctx, key)
		if err != nil {
			slog.ErrorContext(ctx, "failed to check ledger", "key", key, "err", err)
			return
		}
		if posted {
			// adopt the old post as this thread's parent so late
			// parcels still join the conversation
			entry, err := s.ledger.Get(ctx, key)
			if err != nil {
				slog.ErrorContext(ctx, "failed to read ledger", "key", key, "err", err)
				return
			}
			if ref, ok := bsky.ParsePostRef(entry.PostRef); ok {
				parent = &ref
				if root == nil {
					if rootRef, ok := bsky.ParsePostRef(entry.ThreadRoot); ok {
						root = &rootRef
					} else {
						root = &ref
					}
				}
			}
			slog.DebugContext(ctx, "already posted", "key", key)
			continue
		}

		if sale.SaleAmount <= 0 {
			slog.DebugContext(ctx, "skipping zero sale amount", "key", key)
			continue
		}

		ref, err := s.postSale(ctx, sale, i, len(group), root, parent)
		if err != nil {
			slog.WarnContext(ctx, "failed to post sale", "key", key, "err", err)
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

func (s Service) postSale(
	ctx context.Context,
	sale cvillegis.Sale,
	index, total int,
	root, parent *bsky.PostRef,
) (bsky.PostRef, error) {
	ctx, span := tracer.Start(ctx, "postSale")
	defer span.End()

	details, err := s.gis.Details(ctx, sale.ParcelNumber)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return bsky.PostRef{}, err
	}

	text := s.statusText(ctx, sale, details, total)
	if total > 1 {
		text += fmt.Sprintf(" Parcel %d of %d.", index+1, total)
	}

	post := bsky.Post{
		Text:   text,
		Images: s.media(ctx, sale.ParcelNumber, details.Address()),
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

func (s Service) statusText(ctx context.Context, sale cvillegis.Sale, details cvillegis.Details, total int) string {
	text := fmt.Sprintf(
		"%s, %s on %s for %s. Zoned %s, assessed at %s.",
		details.Address(),
		statustext.SoldClause(details.OwnerName),
		sale.SaleDate.Format("January 2, 2006"),
		statustext.Dollars(sale.SaleAmount),
		details.Zoning,
		statustext.Dollars(details.Assessment),
	)

	// per-square-foot and sale history only make sense when the whole
	// transaction is this one parcel
	if total != 1 {
		return text
	}

	squareFeet, ok, err := s.gis.SquareFeet(ctx, sale.ParcelNumber)
	if err != nil {
		slog.WarnContext(ctx, "failed to fetch square footage", "parcel", sale.ParcelNumber, "err", err)
	} else if ok && squareFeet > 0 {
		ppsf := int64(math.Round(float64(sale.SaleAmount) / float64(squareFeet)))
		text += fmt.Sprintf(" %s per square foot.", statustext.Dollars(ppsf))
	}

	previous, err := s.gis.PreviousSale(ctx, sale.ParcelNumber, sale.SaleDate)
	if err != nil {
		slog.WarnContext(ctx, "failed to fetch previous sale", "parcel", sale.ParcelNumber, "err", err)
	} else if previous != nil {
		text += " " + statustext.FormatPreviousSale("", previous.SaleDate.Year(), previous.SaleAmount, 1)
	}
	return text
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
