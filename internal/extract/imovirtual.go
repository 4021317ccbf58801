package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"casawatch/internal/hash/sha256"
	"casawatch/internal/monitor"
)

// Imovirtual extracts listings from imovirtual.com search results, which
// render each listing as an article tagged data-testid="listing-item".
type Imovirtual struct {
	hasher *sha256.Hasher
}

// NewImovirtual builds the imovirtual.com extractor.
func NewImovirtual() *Imovirtual {
	return &Imovirtual{hasher: sha256.New()}
}

// Extract implements monitor.Extractor.
func (e *Imovirtual) Extract(page monitor.PageSnapshot) ([]monitor.Listing, error) {
	if len(bytes.TrimSpace(page.Body)) == 0 {
		return nil, &monitor.ParseError{Reason: "empty page body"}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, &monitor.ParseError{Reason: fmt.Sprintf("unparseable html: %v", err)}
	}

	var listings []monitor.Listing
	doc.Find(`article[data-testid="listing-item"]`).Each(func(_ int, item *goquery.Selection) {
		href, _ := item.Find("a[href]").First().Attr("href")
		if href == "" {
			return
		}
		if !strings.HasPrefix(href, "http") {
			href = "https://www.imovirtual.com" + href
		}

		title := strings.TrimSpace(item.Find("h3").First().Text())
		if title == "" {
			title = "Sem título"
		}

		rawPrice := strings.TrimSpace(item.Find(`span[data-testid="listing-item-price"]`).First().Text())
		if rawPrice == "" {
			item.Find("span, p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
				text := strings.TrimSpace(s.Text())
				if strings.Contains(text, "€") && len(text) < 40 {
					rawPrice = text
					return false
				}
				return true
			})
		}
		if rawPrice == "" {
			rawPrice = "Preço sob consulta"
		}

		id := firstAttr(item, "id", "data-item-id")
		if id == "" {
			id = e.hasher.HashString(href)
		}

		listings = append(listings, monitor.Listing{
			Site:     "imovirtual.com",
			ID:       id,
			Title:    title,
			URL:      href,
			Price:    ParsePrice(rawPrice),
			RawPrice: rawPrice,
		})
	})
	return listings, nil
}
