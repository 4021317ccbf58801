package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"casawatch/internal/hash/sha256"
	"casawatch/internal/monitor"
)

// CasaSapo extracts listings from casa.sapo.pt search results.
type CasaSapo struct {
	hasher *sha256.Hasher
}

// NewCasaSapo builds the casa.sapo.pt extractor.
func NewCasaSapo() *CasaSapo {
	return &CasaSapo{hasher: sha256.New()}
}

// Extract implements monitor.Extractor.
func (e *CasaSapo) Extract(page monitor.PageSnapshot) ([]monitor.Listing, error) {
	if len(bytes.TrimSpace(page.Body)) == 0 {
		return nil, &monitor.ParseError{Reason: "empty page body"}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, &monitor.ParseError{Reason: fmt.Sprintf("unparseable html: %v", err)}
	}

	var listings []monitor.Listing
	doc.Find("div").FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		return strings.Contains(class, "searchItem")
	}).Each(func(_ int, item *goquery.Selection) {
		href, _ := item.Find("a[href]").First().Attr("href")
		if href == "" {
			return
		}
		if !strings.HasPrefix(href, "http") {
			href = "https://casa.sapo.pt" + href
		}

		title := strings.TrimSpace(item.Find("span.searchItemTitle").First().Text())
		if title == "" {
			title = "Sem título"
		}

		rawPrice := strings.TrimSpace(item.Find("span.searchItemValue").First().Text())
		if rawPrice == "" {
			rawPrice = "Preço não disponível"
		}

		id, _ := item.Attr("data-id")
		if id == "" {
			id = e.hasher.HashString(href)
		}

		listings = append(listings, monitor.Listing{
			Site:     "casa.sapo.pt",
			ID:       id,
			Title:    title,
			URL:      href,
			Price:    ParsePrice(rawPrice),
			RawPrice: rawPrice,
		})
	})
	return listings, nil
}
