package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Product is one catalog row. Text fields hold the cleaned values.
type Product struct {
	ID           int64   `json:"id"`
	Title        string  `json:"title"`
	Details      string  `json:"-"`
	Manufacturer string  `json:"manufacturer"`
	Price        float64 `json:"price"`
	URL          string  `json:"url"`
}

// SearchText is the lowercased text the vector space is fitted over.
func (p Product) SearchText() string {
	return strings.ToLower(p.Title + " " + p.Details + " " + p.Manufacturer)
}

var (
	nonWordPattern  = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	nonPricePattern = regexp.MustCompile(`[^0-9.]`)
)

func cleanText(s string) string {
	return nonWordPattern.ReplaceAllString(s, "")
}

// parsePrice strips everything but digits and dots. Anything unparsable is 0.
func parsePrice(s string) float64 {
	digits := nonPricePattern.ReplaceAllString(s, "")
	if digits == "" {
		return 0
	}
	price, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0
	}
	return price
}

// LoadFile reads a product catalog from a CSV file.
func LoadFile(path string) ([]Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", path, err)
	}
	defer f.Close()
	return LoadCSV(f)
}

// LoadCSV parses a catalog with the columns id, title, details, manufacturer, price, url.
// Columns may appear in any order; missing ones default to empty or zero.
// A row whose field count differs from the header fails the whole load.
func LoadCSV(r io.Reader) ([]Product, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("catalog is empty")
		}
		return nil, fmt.Errorf("failed to read catalog header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		columns[name] = i
	}
	field := func(record []string, name string) string {
		if idx, ok := columns[name]; ok && idx < len(record) {
			return record[idx]
		}
		return ""
	}

	var products []Product
	for row := 0; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog row %d: %w", row+1, err)
		}

		id, err := strconv.ParseInt(strings.TrimSpace(field(record, "id")), 10, 64)
		if err != nil {
			id = int64(row)
		}
		products = append(products, Product{
			ID:           id,
			Title:        cleanText(field(record, "title")),
			Details:      cleanText(field(record, "details")),
			Manufacturer: cleanText(field(record, "manufacturer")),
			Price:        parsePrice(field(record, "price")),
			URL:          field(record, "url"),
		})
	}
	return products, nil
}
