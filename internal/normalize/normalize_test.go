package normalize

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNormalizeMapsLooseHeaders(t *testing.T) {
	rec := Normalizer{}.Normalize(Fields{
		{Key: "Item Name", Value: "Widget"},
		{Key: "Qty", Value: "12"},
		{Key: "Unit Price", Value: "$3.50"},
	})

	assert.Equal(t, RawRecord{Item: "Widget", Quantity: 12, Price: 3.5}, rec.Resolve())
}

func TestNormalizeFirstUnclassifiedNumericBecomesPrice(t *testing.T) {
	rec := Normalizer{}.Normalize(Fields{
		{Key: "sku", Value: "A-77"},
		{Key: "total", Value: "19.99"},
		{Key: "tax", Value: "1.60"},
	})

	require.NotNil(t, rec.Price)
	assert.Equal(t, 19.99, *rec.Price)
	assert.Nil(t, rec.Quantity)
	assert.Nil(t, rec.Item)
}

func TestNormalizeExplicitPriceWinsOverUnclassified(t *testing.T) {
	rec := Normalizer{}.Normalize(Fields{
		{Key: "price", Value: "4"},
		{Key: "total", Value: "99"},
	})
	assert.Equal(t, 4.0, *rec.Price)

	// a later explicit price overwrites an unclassified one
	rec = Normalizer{}.Normalize(Fields{
		{Key: "total", Value: "99"},
		{Key: "amount", Value: "5"},
	})
	assert.Equal(t, 5.0, *rec.Price)
}

func TestNormalizeLaterClassifiedKeyOverwrites(t *testing.T) {
	rec := Normalizer{}.Normalize(Fields{
		{Key: "qty", Value: "2"},
		{Key: "quantity", Value: "n/a"},
		{Key: "name", Value: "first"},
		{Key: "description", Value: "second"},
	})
	assert.Nil(t, rec.Quantity)
	assert.Equal(t, "second", *rec.Item)
}

func TestUnclassifiedRules(t *testing.T) {
	fields := Fields{
		{Key: "sku", Value: "A-77"},
		{Key: "total", Value: "19.99"},
		{Key: "tax", Value: "1.60"},
	}

	rec := Record{}
	for _, f := range fields {
		RuleUnclassifiedPrice.Apply(&rec, f.Value)
	}
	require.NotNil(t, rec.Price)
	assert.Equal(t, 19.99, *rec.Price)
	assert.Equal(t, rec, Normalizer{}.Normalize(fields))
	assert.Equal(t, rec, Normalizer{Unclassified: &RuleUnclassifiedPrice}.Normalize(fields))

	ignore := Normalizer{Unclassified: &RuleIgnoreUnclassified}
	assert.True(t, ignore.Normalize(fields).Empty())
	assert.Equal(t, 4.0, *ignore.Normalize(append(fields, Field{Key: "price", Value: "4"})).Price)

	custom := Normalizer{Unclassified: &UnclassifiedRule{
		Name: "last-numeric",
		Apply: func(rec *Record, value string) {
			if v, ok := ParseNumber(value); ok {
				rec.Price = &v
			}
		},
	}}
	assert.Equal(t, 1.6, *custom.Normalize(fields).Price)
}

func TestResolveDefaults(t *testing.T) {
	price := 2.5
	assert.Equal(t, RawRecord{Item: DefaultItem, Quantity: 1, Price: 2.5}, Record{Price: &price}.Resolve())

	empty := ""
	assert.True(t, Record{Item: &empty}.Empty())
	assert.True(t, Record{}.Empty())
	assert.False(t, Record{Price: &price}.Empty())
}

func TestNormalizeAllSkipsEmptyRecords(t *testing.T) {
	records, skipped := Normalizer{}.NormalizeAll([]Fields{
		{{Key: "item", Value: "Pen"}, {Key: "price", Value: "1.20"}},
		{{Key: "note", Value: "thanks for shopping"}},
		{},
	})
	assert.Equal(t, 2, skipped)
	assert.Equal(t, []RawRecord{{Item: "Pen", Quantity: 1, Price: 1.2}}, records)
}

func TestCustomRules(t *testing.T) {
	n := Normalizer{Rules: []Rule{
		{Name: "article", Match: KeyContains("artikel"), Target: TargetItem},
		{Name: "menge", Match: KeyContains("menge"), Target: TargetQuantity},
		{Name: "preis", Match: KeyContains("preis"), Target: TargetPrice},
	}}

	rec := n.Normalize(Fields{
		{Key: "Artikel", Value: "Schraube"},
		{Key: "Menge", Value: "3"},
		{Key: "Einzelpreis", Value: "€0,10"},
	})
	assert.Equal(t, "Schraube", *rec.Item)
	assert.Equal(t, 3.0, *rec.Quantity)
	// comma is a thousands separator, not a decimal mark
	assert.Equal(t, 10.0, *rec.Price)
}

func TestParseNumber(t *testing.T) {
	numbers := []struct {
		in   string
		want float64
	}{
		{"12", 12},
		{" 3.50 ", 3.5},
		{"$1,234.50", 1234.5},
		{"€ 9", 9},
		{"£0.99", 0.99},
		{"1\u00a0000", 1000},
		{"-4.25", -4.25},
		{"₹1,00,000", 100000},
	}
	for _, tc := range numbers {
		got, ok := ParseNumber(tc.in)
		assert.True(t, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, in := range []string{"", "  ", "$", "abc", "12abc", "NaN", "Inf", "-infinity"} {
		_, ok := ParseNumber(in)
		assert.False(t, ok, in)
	}
}

func TestParseNumberFormattedIntegers(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.Int64Range(0, 1_000_000_000).Draw(rt, "n")
		symbol := rapid.SampledFrom([]string{"", "$", "€", "£", "¥"}).Draw(rt, "symbol")

		digits := strconv.FormatInt(n, 10)
		var grouped strings.Builder
		for i, d := range digits {
			if i > 0 && (len(digits)-i)%3 == 0 {
				grouped.WriteByte(',')
			}
			grouped.WriteRune(d)
		}

		got, ok := ParseNumber(symbol + grouped.String())
		if !ok || got != float64(n) {
			rt.Fatalf("ParseNumber(%q) = %v, %v", symbol+grouped.String(), got, ok)
		}
	})
}
