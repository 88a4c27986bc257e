// Package grouping clusters sale records that belong to one transaction
// when the source has no stable grouping identifier.
//
// records match a group on exact price and date plus an approximate
// owner-name match; the county data has occasional typos and
// inconsistencies in owner names, so requiring exact equality would split
// transactions and matching too loosely would merge strangers.
package grouping

import (
	"context"
	"log/slog"
	"time"

	"github.com/antzucaro/matchr"
)

const DefaultThreshold = 0.95

// normalized Levenshtein similarity in [0, 1]; 1 means equal
func SimilarityRatio(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1
	}
	distance := matchr.Levenshtein(a, b)
	return 1 - float64(distance)/float64(longest)
}

type Key struct {
	Price int64
	Date  time.Time
	Owner string
}

type Group[T any] struct {
	Key     Key
	Records []T
}

type Grouper[T any] struct {
	// minimum owner-name similarity for a fuzzy match
	Threshold float64

	groups []*Group[T]
}

func NewGrouper[T any](threshold float64) *Grouper[T] {
	return &Grouper[T]{Threshold: threshold}
}

func (g *Grouper[T]) Add(ctx context.Context, key Key, record T) {
	var candidates []*Group[T]
	for _, group := range g.groups {
		if group.Key.Price != key.Price || !group.Key.Date.Equal(key.Date) {
			continue
		}
		if group.Key.Owner == key.Owner {
			group.Records = append(group.Records, record)
			return
		}
		if SimilarityRatio(group.Key.Owner, key.Owner) >= g.Threshold {
			candidates = append(candidates, group)
		}
	}

	if len(candidates) == 1 {
		candidates[0].Records = append(candidates[0].Records, record)
		return
	}
	if len(candidates) > 1 {
		// never guess between groups; a false merge posts a bogus thread
		slog.WarnContext(
			ctx, "got multiple potential matches for record",
			"owner", key.Owner,
			"price", key.Price,
			"date", key.Date,
			"candidates", len(candidates),
		)
	}

	g.groups = append(g.groups, &Group[T]{
		Key:     key,
		Records: []T{record},
	})
}

// Groups returns clusters in first-seen order
func (g *Grouper[T]) Groups() []Group[T] {
	out := make([]Group[T], len(g.groups))
	for i, group := range g.groups {
		out[i] = *group
	}
	return out
}
