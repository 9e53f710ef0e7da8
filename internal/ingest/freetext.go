package ingest

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/i5heu/cipher-tally/internal/normalize"
	"golang.org/x/text/unicode/norm"
)

const (
	keyItem     = "item"
	keyQuantity = "quantity"
	keyPrice    = "price"
)

// LineStrategy tries to read one line as a line item.
type LineStrategy interface {
	Name() string
	Match(line string) (normalize.Fields, bool)
}

// DelimiterStrategy splits on the first delimiter that yields at least
// MinParts parts and reads them as item, quantity, price.
type DelimiterStrategy struct {
	Delimiters []string
	MinParts   int
}

func (DelimiterStrategy) Name() string { return "delimiter" }

func (s DelimiterStrategy) Match(line string) (normalize.Fields, bool) {
	minParts := s.MinParts
	if minParts < 3 {
		minParts = 3
	}
	for _, d := range s.Delimiters {
		if !strings.Contains(line, d) {
			continue
		}
		parts := strings.Split(line, d)
		if len(parts) < minParts {
			continue
		}
		return normalize.Fields{
			{Key: keyItem, Value: strings.TrimSpace(parts[0])},
			{Key: keyQuantity, Value: strings.TrimSpace(parts[1])},
			{Key: keyPrice, Value: strings.TrimSpace(parts[2])},
		}, true
	}
	return nil, false
}

// PositionalNumericStrategy reads "Blue Widget 4 19.99" style lines from the
// right: the last number is the price, the number before it the quantity,
// and the words left of the numbers the item. Lines of fewer than three
// tokens, such as "TOTAL 10.00", are not rows.
type PositionalNumericStrategy struct{}

func (PositionalNumericStrategy) Name() string { return "positional" }

func (PositionalNumericStrategy) Match(line string) (normalize.Fields, bool) {
	tokens := strings.Fields(line)
	if len(tokens) < 3 {
		return nil, false
	}

	priceAt, qtyAt := -1, -1
	for i := len(tokens) - 1; i >= 0; i-- {
		if _, ok := normalize.ParseNumber(tokens[i]); !ok {
			continue
		}
		if priceAt < 0 {
			priceAt = i
			continue
		}
		qtyAt = i
		break
	}
	if priceAt < 0 {
		return nil, false
	}

	itemEnd := priceAt
	fields := normalize.Fields{}
	if qtyAt >= 0 {
		itemEnd = qtyAt
	}
	fields = append(fields, normalize.Field{Key: keyItem, Value: strings.Join(tokens[:itemEnd], " ")})
	if qtyAt >= 0 {
		fields = append(fields, normalize.Field{Key: keyQuantity, Value: tokens[qtyAt]})
	}
	fields = append(fields, normalize.Field{Key: keyPrice, Value: tokens[priceAt]})
	return fields, true
}

var DefaultStrategies = []LineStrategy{
	DelimiterStrategy{Delimiters: []string{",", "\t", "|"}, MinParts: 3},
	PositionalNumericStrategy{},
}

// FreeTextParser applies its strategies to every non-blank line; the first
// strategy that matches wins and unmatched lines are skipped.
type FreeTextParser struct {
	Strategies []LineStrategy
}

func (p FreeTextParser) strategies() []LineStrategy {
	if p.Strategies == nil {
		return DefaultStrategies
	}
	return p.Strategies
}

func (p FreeTextParser) Parse(ctx context.Context, r io.Reader) ([]normalize.Fields, error) {
	scanner := bufio.NewScanner(norm.NFKC.Reader(r))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var rows []normalize.Fields
	for n := 0; scanner.Scan(); n++ {
		if n%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		for _, s := range p.strategies() {
			if fields, ok := s.Match(line); ok {
				rows = append(rows, fields)
				break
			}
		}
	}
	return rows, scanner.Err()
}

// cleanText folds compatibility characters (ligatures, full-width digits)
// that recognition engines like to emit.
func cleanText(s string) string {
	s = norm.NFKC.String(s)
	return strings.ReplaceAll(s, "\r\n", "\n")
}
