package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func CleanText(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) {
			newStr.WriteRune(c)
		}
	}
	out := strings.Trim(newStr.String(), " \t\n")
	return innerWhitespace.ReplaceAllString(out, " ")
}

// the urls of every <img> under `sel` whose src contains `substr`
func ImageSources(sel *goquery.Selection, substr string) []string {
	var urls []string
	sel.Find("img").Each(func(_ int, img *goquery.Selection) {
		src := img.AttrOr("src", "")
		if src == "" {
			return
		}
		if substr != "" && !strings.Contains(src, substr) {
			return
		}
		urls = append(urls, src)
	})
	return urls
}

// zips a table's <thead> headings with each <tbody> row into flat records.
// scrape result tables all follow this shape.
func TableRecords(table *goquery.Selection) []map[string]string {
	var headings []string
	table.Find("thead tr th").Each(func(_ int, th *goquery.Selection) {
		headings = append(headings, CleanText(th.Text()))
	})

	var records []map[string]string
	table.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		record := map[string]string{}
		tr.Find("td").Each(func(i int, td *goquery.Selection) {
			if i < len(headings) {
				record[headings[i]] = CleanText(td.Text())
			}
		})
		if len(record) > 0 {
			records = append(records, record)
		}
	})
	return records
}
