package statustext

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatPreviousSale(t *testing.T) {
	cases := []struct {
		owner  string
		year   int
		amount int64
		count  int
		expect string
	}{
		{"", 2024, 123456, 1, "Last sold in 2024 for $123,456."},
		{"SMITH JOHN", 2024, 123456, 1, "Last sold in 2024 for $123,456."},
		{"", 2024, 123456, 3, "Last sold in 2024 for $123,456 (3 parcels)."},
		{"ACME LLC", 2019, 1000000, 1, "Last sold to ACME LLC in 2019 for $1,000,000."},
		{"ACME LLC", 2019, 1000000, 2, "Last sold to ACME LLC in 2019 for $1,000,000 (2 parcels)."},
	}
	for _, test := range cases {
		require.Equal(t, test.expect, FormatPreviousSale(test.owner, test.year, test.amount, test.count))
	}
}

func TestIsProbableBusiness(t *testing.T) {
	require.True(t, IsProbableBusiness("BLUE RIDGE HOLDINGS LLC"))
	require.True(t, IsProbableBusiness("C-VILLE HOLDINGS, LLC."))
	require.True(t, IsProbableBusiness("PIEDMONT HOUSING FOUNDATION"))
	require.True(t, IsProbableBusiness("CITY OF CHARLOTTESVILLE"))
	require.False(t, IsProbableBusiness("SMITH JOHN"))
	require.False(t, IsProbableBusiness("SMITH JOHN & JANE"))
}

func TestSoldClause(t *testing.T) {
	require.Equal(t, "sold to ACME LLC", SoldClause("ACME LLC"))
	require.Equal(t, "sold", SoldClause("SMITH JOHN"))
	require.Equal(t, "sold", SoldClause(""))
}

func TestDollars(t *testing.T) {
	require.Equal(t, "$123,456", Dollars(123456))
	require.Equal(t, "$0", Dollars(0))
}

func TestFit(t *testing.T) {
	render := func(details int) string {
		parts := []string{"header"}
		for i := 0; i < details; i++ {
			parts = append(parts, fmt.Sprintf("detail %d", i))
		}
		return strings.Join(parts, "\n")
	}

	// plenty of room: all details kept
	message, err := Fit(300, 5, render)
	require.NoError(t, err)
	require.Equal(t, render(5), message)

	// tight: details drop until it fits, and the result never exceeds the cap
	message, err = Fit(24, 5, render)
	require.NoError(t, err)
	require.LessOrEqual(t, len(message), 24)
	require.Equal(t, render(2), message)

	// impossible even with zero details
	_, err = Fit(3, 5, render)
	require.ErrorIs(t, err, ErrTooLong)
}
