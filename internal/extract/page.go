// Package extract turns fetched product pages into structured crawl results.
// Each platform has a strategy owning its selector tables and stock rules;
// shared helpers implement the selector-chain and structured-data lookups.
package extract

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page wraps a parsed document with selector-chain helpers. Selectors are
// tried in order; the first non-empty hit wins, so tables can list the
// current markup first and legacy fallbacks after it.
type Page struct {
	doc *goquery.Document
}

// ParsePage parses raw HTML.
func ParsePage(body []byte) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return &Page{doc: doc}, nil
}

// FirstText returns the trimmed text of the first selector that matches a
// non-empty element.
func (p *Page) FirstText(selectors ...string) string {
	for _, sel := range selectors {
		text := strings.TrimSpace(p.doc.Find(sel).First().Text())
		if text != "" {
			return text
		}
	}
	return ""
}

// FirstAttr returns the named attribute of the first selector that matches
// an element carrying it.
func (p *Page) FirstAttr(attr string, selectors ...string) string {
	for _, sel := range selectors {
		if val, ok := p.doc.Find(sel).First().Attr(attr); ok && strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

// ImageURL resolves an image source across the selector chain, skipping
// lazy-loading placeholders in favor of data-src.
func (p *Page) ImageURL(selectors ...string) string {
	for _, sel := range selectors {
		node := p.doc.Find(sel).First()
		src, _ := node.Attr("src")
		if src == "" || strings.HasPrefix(src, "data:image") {
			src, _ = node.Attr("data-src")
		}
		src = strings.TrimSpace(src)
		if strings.HasPrefix(src, "http") {
			return src
		}
	}
	return ""
}

// Exists reports whether any selector in the chain matches.
func (p *Page) Exists(selectors ...string) bool {
	for _, sel := range selectors {
		if p.doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

// CollectTexts gathers the distinct trimmed texts of every element matched
// by the selector chain, in document order.
func (p *Page) CollectTexts(selectors ...string) []string {
	var out []string
	seen := map[string]bool{}
	for _, sel := range selectors {
		p.doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			if text != "" && !seen[text] {
				seen[text] = true
				out = append(out, text)
			}
		})
	}
	return out
}

// LDProduct is the subset of a schema.org Product record the strategies use.
type LDProduct struct {
	Name     string
	Price    string
	ImageURL string
	Brand    string
	Rating   string
}

// LDJSONProduct scans ld+json script blocks for a Product record. Pages
// often embed several blocks (organization, breadcrumbs); only the Product
// one is returned.
func (p *Page) LDJSONProduct() *LDProduct {
	var found *LDProduct
	p.doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var raw any
		if err := json.Unmarshal([]byte(s.Text()), &raw); err != nil {
			return true
		}
		candidates := []any{raw}
		if list, ok := raw.([]any); ok {
			candidates = list
		}
		for _, cand := range candidates {
			obj, ok := cand.(map[string]any)
			if !ok || obj["@type"] != "Product" {
				continue
			}
			found = parseLDProduct(obj)
			return false
		}
		return true
	})
	return found
}

func parseLDProduct(obj map[string]any) *LDProduct {
	out := &LDProduct{}
	out.Name, _ = obj["name"].(string)

	offers := obj["offers"]
	if list, ok := offers.([]any); ok && len(list) > 0 {
		offers = list[0]
	}
	if offer, ok := offers.(map[string]any); ok {
		out.Price = stringify(offer["price"])
	}

	image := obj["image"]
	if list, ok := image.([]any); ok && len(list) > 0 {
		image = list[0]
	}
	if m, ok := image.(map[string]any); ok {
		image = m["url"]
	}
	out.ImageURL, _ = image.(string)

	switch brand := obj["brand"].(type) {
	case string:
		out.Brand = brand
	case map[string]any:
		out.Brand, _ = brand["name"].(string)
	}

	if rating, ok := obj["aggregateRating"].(map[string]any); ok {
		out.Rating = stringify(rating["ratingValue"])
	}
	return out
}

// NextDataProduct pulls the product object out of a Next.js __NEXT_DATA__
// bootstrap blob, used by client-rendered store pages.
func (p *Page) NextDataProduct() *LDProduct {
	raw := p.doc.Find("script#__NEXT_DATA__").First().Text()
	if raw == "" {
		return nil
	}
	var blob struct {
		Props struct {
			PageProps struct {
				Product map[string]any `json:"product"`
			} `json:"pageProps"`
		} `json:"props"`
	}
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		return nil
	}
	product := blob.Props.PageProps.Product
	if len(product) == 0 {
		return nil
	}

	out := &LDProduct{}
	out.Name, _ = product["name"].(string)
	out.Price = stringify(product["price"])
	if img, ok := product["imageUrl"].(string); ok {
		out.ImageURL = img
	} else if img, ok := product["image"].(string); ok {
		out.ImageURL = img
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		b, _ := json.Marshal(t)
		return string(b)
	case json.Number:
		return t.String()
	}
	return ""
}
