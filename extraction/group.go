package extraction

import (
	"regexp"
	"strconv"
	"strings"
)

const untagged = "untagged"

// Group is one batch of quotes sharing a category and lead tag.
type Group struct {
	Key    string
	Quotes []Quote
}

// GroupKey returns "category × lead_tag". An empty category or missing lead tag
// becomes "untagged".
func GroupKey(category string, tags []string) string {
	if category == "" {
		category = untagged
	}
	lead := untagged
	if len(tags) > 0 && tags[0] != "" {
		lead = tags[0]
	}
	return category + " × " + lead
}

// GroupQuotes partitions quotes by GroupKey. Groups appear in order of their first
// member; members keep input order.
func GroupQuotes(quotes []Quote) []Group {
	pos := make(map[string]int)
	var groups []Group
	for _, q := range quotes {
		key := GroupKey(q.Category, q.Tags)
		i, ok := pos[key]
		if !ok {
			i = len(groups)
			pos[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Quotes = append(groups[i].Quotes, q)
	}
	return groups
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lower-cases s and turns every run of non [a-z0-9] characters into "-".
func Slugify(s string) string {
	slug := strings.Trim(slugStrip.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if slug == "" {
		return untagged
	}
	return slug
}

// GroupSlugs returns one file-name slug per group, in group order. Repeated slugs get a
// "-2", "-3" suffix so no two groups share a file.
func GroupSlugs(groups []Group) []string {
	seen := make(map[string]int, len(groups))
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		base := Slugify(g.Key)
		seen[base]++
		slug := base
		if n := seen[base]; n > 1 {
			slug = base + "-" + strconv.Itoa(n)
		}
		out = append(out, slug)
	}
	return out
}

// BuildInputBlock renders quotes as "[p.S-E] \nquote" blocks separated by blank lines.
// Quotes that are blank after trimming are left out.
func BuildInputBlock(quotes []Quote) string {
	blocks := make([]string, 0, len(quotes))
	for _, q := range quotes {
		text := strings.TrimSpace(q.Quote)
		if text == "" {
			continue
		}
		blocks = append(blocks, "[p."+strconv.Itoa(q.PageStart)+"-"+strconv.Itoa(q.PageEnd)+"] \n"+text)
	}
	return strings.Join(blocks, "\n\n")
}
