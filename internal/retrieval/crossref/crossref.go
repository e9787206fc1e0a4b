// Package crossref extracts article citations from statute text.
package crossref

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	minArticleID = 1
	maxArticleID = 100000
)

// Citation patterns, applied in order. The list forms capture a run of
// numbers separated by commas, "و", "and" or "&".
var (
	listPatterns = []*regexp.Regexp{
		regexp.MustCompile(`المواد\s*\(?\s*(\d+(?:\s*[،,و]\s*\d+)*)\s*\)?`),
		regexp.MustCompile(`(?i)\bArticles\s+(\d+(?:\s*(?:,\s*(?:and\s+)?|and\s+|&\s*)\d+)*)`),
	}

	singlePatterns = []*regexp.Regexp{
		regexp.MustCompile(`المادة\s*\(?\s*(\d+)\s*\)?`),
		regexp.MustCompile(`وفقاً\s+للمادة\s*\(?\s*(\d+)\s*\)?`),
		regexp.MustCompile(`بموجب\s+المادة\s*\(?\s*(\d+)\s*\)?`),
		regexp.MustCompile(`انظر\s+المادة\s*\(?\s*(\d+)\s*\)?`),
		regexp.MustCompile(`طبقاً\s+للمادة\s*\(?\s*(\d+)\s*\)?`),
		regexp.MustCompile(`المشار\s+إليها\s+في\s+المادة\s*\(?\s*(\d+)\s*\)?`),
		regexp.MustCompile(`من\s+المادة\s*\(?\s*(\d+)\s*\)?`),
		regexp.MustCompile(`(?i)\bArticles?\s+(\d+)`),
	}

	digitPattern = regexp.MustCompile(`\d+`)

	// Arabic-Indic and Extended Arabic-Indic digits.
	digitReplacer = strings.NewReplacer(
		"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
		"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
		"۰", "0", "۱", "1", "۲", "2", "۳", "3", "۴", "4",
		"۵", "5", "۶", "6", "۷", "7", "۸", "8", "۹", "9",
	)
)

// Extract returns the article ids cited in text, ascending and unique. self
// is excluded; zero means no article to exclude.
func Extract(text string, self int) []int {
	if text == "" {
		return nil
	}
	text = digitReplacer.Replace(text)

	refs := make(map[int]struct{})
	add := func(s string) {
		n, err := strconv.Atoi(s)
		if err != nil || n < minArticleID || n > maxArticleID || n == self {
			return
		}
		refs[n] = struct{}{}
	}

	for _, pat := range singlePatterns {
		for _, m := range pat.FindAllStringSubmatch(text, -1) {
			add(m[1])
		}
	}
	for _, pat := range listPatterns {
		for _, m := range pat.FindAllStringSubmatch(text, -1) {
			for _, n := range digitPattern.FindAllString(m[1], -1) {
				add(n)
			}
		}
	}

	if len(refs) == 0 {
		return nil
	}
	out := make([]int, 0, len(refs))
	for n := range refs {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Source is an article whose text may cite others.
type Source struct {
	ID   int
	Text string
}

// Plan scans sources and returns the ids to fetch, ascending and capped at
// limit, along with the citing articles of each. Ids in skip are never
// returned.
func Plan(sources []Source, skip func(id int) bool, limit int) (ids []int, citedBy map[int][]int) {
	citedBy = make(map[int][]int)
	for _, s := range sources {
		for _, ref := range Extract(s.Text, s.ID) {
			if skip != nil && skip(ref) {
				continue
			}
			citedBy[ref] = append(citedBy[ref], s.ID)
		}
	}

	ids = make([]int, 0, len(citedBy))
	for id := range citedBy {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	if limit >= 0 && len(ids) > limit {
		for _, id := range ids[limit:] {
			delete(citedBy, id)
		}
		ids = ids[:limit]
	}
	for id := range citedBy {
		sort.Ints(citedBy[id])
	}
	return ids, citedBy
}
