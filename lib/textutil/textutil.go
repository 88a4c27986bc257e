package textutil

import (
	"regexp"
	"strings"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)
var nonWordRegex = regexp.MustCompile(`\W`)

func NormalizeName(name string) string {
	name = strings.ToUpper(name)
	name = strings.Trim(name, " \n\t")
	name = whitespaceRegex.ReplaceAllString(name, " ")
	return name
}

// splits a value into uppercase word tokens, dropping punctuation.
// "C-VILLE HOLDINGS, LLC." -> ["C", "VILLE", "HOLDINGS", "LLC"]
func Tokenize(value string) []string {
	return strings.Fields(nonWordRegex.ReplaceAllString(value, " "))
}

func MatchToken(value string, tokens []string) bool {
	for _, t := range Tokenize(value) {
		for _, m := range tokens {
			if t == m {
				return true
			}
		}
	}
	return false
}
