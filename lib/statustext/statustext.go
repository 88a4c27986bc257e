// Package statustext renders municipal records into short post text.
package statustext

import (
	"errors"
	"fmt"
	"strings"

	"cvillebots/lib/textutil"

	"github.com/dustin/go-humanize"
)

func Comma(n int64) string {
	return humanize.Comma(n)
}

func Dollars(n int64) string {
	return "$" + humanize.Comma(n)
}

var businessSuffixes = []string{
	" LLC",
	" LTD",
	" INC",
	" CORPORATION",
	" FOUNDATION",
}

var businessTokens = []string{
	"LLC",
	"INC",
	"INCORPORATED",
	"CORP",
	"CORPORATION",
	"COMPANY",
	"FOUNDATION",
}

var institutionalOwners = map[string]bool{
	"CITY OF CHARLOTTESVILLE":                              true,
	"CITY OF CHARLOTTESVILLE & COUNTY OF ALBEMARLE":        true,
	"COUNTY OF ALBEMARLE":                                  true,
	"THE RECTOR & VISITORS OF THE UNIVERSITY OF VIRGINIA":  true,
	"CHARLOTTESVILLE REDEVELOPMENT & HOUSING AUTHORITY":    true,
	"VELIKY, LC":                                           true,
}

// guess whether an owner is a business based on its name. we don't want
// to publish individual names, even though they're a matter of public
// record, but business names are fair game.
func IsProbableBusiness(owner string) bool {
	for _, suffix := range businessSuffixes {
		if strings.HasSuffix(owner, suffix) {
			return true
		}
	}
	if institutionalOwners[owner] {
		return true
	}
	return textutil.MatchToken(owner, businessTokens)
}

// "sold to OWNER" when the owner looks like a business, plain "sold" otherwise
func SoldClause(owner string) string {
	if owner != "" && IsProbableBusiness(owner) {
		return fmt.Sprintf("sold to %s", owner)
	}
	return "sold"
}

// FormatPreviousSale renders the previous-sale clause appended to
// single-parcel statuses:
//
//	Last sold in 2024 for $123,456.
//	Last sold to ACME LLC in 2019 for $1,000,000 (3 parcels).
func FormatPreviousSale(owner string, year int, amount int64, parcelCount int) string {
	out := fmt.Sprintf("Last %s in %d for %s", SoldClause(owner), year, Dollars(amount))
	if parcelCount > 1 {
		out += fmt.Sprintf(" (%d parcels)", parcelCount)
	}
	return out + "."
}

var ErrTooLong = errors.New("message cannot fit maximum length even with zero details")

// Fit renders a message at decreasing levels of optional detail until it
// is within maxLen. `render` receives the number of details it may
// include, from maxDetails down to zero. a message that overflows even
// with zero details is an error, never a truncated post.
func Fit(maxLen int, maxDetails int, render func(details int) string) (string, error) {
	for n := maxDetails; n >= 0; n-- {
		message := render(n)
		if len(message) <= maxLen {
			return message, nil
		}
	}
	return "", ErrTooLong
}
