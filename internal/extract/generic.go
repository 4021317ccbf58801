package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"casawatch/internal/hash/sha256"
	"casawatch/internal/monitor"
)

var (
	containerClassRe = regexp.MustCompile(`(?i)item|property|listing|card|product`)
	titleClassRe     = regexp.MustCompile(`(?i)title|name|header`)
	priceTextRe      = regexp.MustCompile(`(?i)€|EUR|\d+[.,]\d+\s?€`)
)

// socialHosts filters sharing widgets out of candidate listing links.
var socialHosts = []string{
	"facebook.com", "whatsapp.com", "twitter.com", "pinterest.com",
	"linkedin.com", "share", "messenger", "mailto:", "tel:",
	"instagram.com", "youtube.com",
}

// Generic is the fallback extractor for portals without a dedicated one.
// It looks for repeated card-like containers and pulls link, title and
// price out of each with loose heuristics.
type Generic struct {
	hasher *sha256.Hasher
	// minContainers is how many matching containers a pattern must
	// produce before it is trusted as the listing grid.
	minContainers int
}

// NewGeneric builds the heuristic extractor.
func NewGeneric() *Generic {
	return &Generic{
		hasher:        sha256.New(),
		minContainers: 3,
	}
}

// Extract implements monitor.Extractor.
func (g *Generic) Extract(page monitor.PageSnapshot) ([]monitor.Listing, error) {
	if len(bytes.TrimSpace(page.Body)) == 0 {
		return nil, &monitor.ParseError{Reason: "empty page body"}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, &monitor.ParseError{Reason: fmt.Sprintf("unparseable html: %v", err)}
	}

	base, err := url.Parse(page.FinalURL)
	if err != nil {
		base = nil
	}

	containers := g.findContainers(doc)
	many := containers.Length() > 20

	var listings []monitor.Listing
	containers.Each(func(_ int, item *goquery.Selection) {
		listing, ok := g.extractItem(item, base, many)
		if ok {
			listings = append(listings, listing)
		}
	})
	return listings, nil
}

// findContainers tries the common listing-grid shapes in order and keeps
// the first one that repeats enough to look like search results.
func (g *Generic) findContainers(doc *goquery.Document) *goquery.Selection {
	for _, tag := range []string{"article", "div", "li"} {
		sel := doc.Find(tag).FilterFunction(func(_ int, s *goquery.Selection) bool {
			class, _ := s.Attr("class")
			return containerClassRe.MatchString(class)
		})
		if sel.Length() >= g.minContainers {
			return sel
		}
	}
	return doc.Find("casawatch-no-match")
}

func (g *Generic) extractItem(item *goquery.Selection, base *url.URL, many bool) (monitor.Listing, bool) {
	link := item.Find("a[href]").First()
	href, ok := link.Attr("href")
	if !ok || isSocialLink(href) {
		return monitor.Listing{}, false
	}
	// Anchors like "#" or "/" are navigation chrome, not listings.
	if len(href) < 10 || strings.HasPrefix(href, "#") {
		return monitor.Listing{}, false
	}
	absolute := absolutize(base, href)

	title := g.itemTitle(item)
	if len(title) < 5 {
		return monitor.Listing{}, false
	}

	rawPrice, found := g.itemPrice(item)
	if !found {
		// On pages with many loose matches, a missing price usually
		// means the container is not a listing at all.
		if many {
			return monitor.Listing{}, false
		}
		rawPrice = "Preço sob consulta"
	}

	id := firstAttr(item, "id", "data-id", "data-ad-id")
	if id == "" {
		path := absolute
		if u, err := url.Parse(absolute); err == nil {
			path = u.Path
		}
		id = "gen_" + g.hasher.HashString(path)
	}

	site := ""
	if base != nil {
		site = strings.TrimPrefix(base.Hostname(), "www.")
	}

	return monitor.Listing{
		Site:     site,
		ID:       id,
		Title:    title,
		URL:      absolute,
		Price:    ParsePrice(rawPrice),
		RawPrice: rawPrice,
	}, true
}

func (g *Generic) itemTitle(item *goquery.Selection) string {
	titled := item.Find("h2, h3, h4, span").FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		return titleClassRe.MatchString(class)
	}).First()
	if titled.Length() == 0 {
		titled = item.Find("h2, h3, h4").First()
	}
	return strings.TrimSpace(titled.Text())
}

func (g *Generic) itemPrice(item *goquery.Selection) (string, bool) {
	price := ""
	item.Find("span, p, div, strong").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if priceTextRe.MatchString(text) && len(text) < 40 {
			price = text
			return false
		}
		return true
	})
	return price, price != ""
}

func absolutize(base *url.URL, href string) string {
	if strings.HasPrefix(href, "http") || base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func isSocialLink(href string) bool {
	lower := strings.ToLower(href)
	for _, keyword := range socialHosts {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func firstAttr(item *goquery.Selection, names ...string) string {
	for _, name := range names {
		if value, ok := item.Attr(name); ok && value != "" {
			return value
		}
	}
	return ""
}
