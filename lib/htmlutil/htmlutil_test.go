package htmlutil

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

const resultTable = `
<table id="search-table">
<thead><tr><th> Id </th><th>Project Number</th><th>Type</th></tr></thead>
<tbody>
<tr><td>101</td><td>B-24-001</td><td>Building</td></tr>
<tr><td>102</td><td>B-24-002</td><td>  Electrical
  Permit</td></tr>
</tbody>
</table>`

func TestTableRecords(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resultTable))
	require.NoError(t, err)

	records := TableRecords(doc.Find("#search-table"))
	require.Len(t, records, 2)
	require.Equal(t, "101", records[0]["Id"])
	require.Equal(t, "B-24-002", records[1]["Project Number"])
	require.Equal(t, "Electrical Permit", records[1]["Type"])
}

func TestImageSources(t *testing.T) {
	page := `<div>
		<img src="https://realestate.example.org/photos/123.jpg" />
		<img src="/static/logo.png" />
		<img />
	</div>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	require.NoError(t, err)

	urls := ImageSources(doc.Selection, "realestate.example.org")
	require.Equal(t, []string{"https://realestate.example.org/photos/123.jpg"}, urls)

	all := ImageSources(doc.Selection, "")
	require.Len(t, all, 2)
}
