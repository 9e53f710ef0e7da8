// Package normalize maps loosely named document fields onto line items.
package normalize

import (
	"math"
	"strconv"
	"strings"
	"unicode"
)

const (
	DefaultItem     = "(unknown)"
	DefaultQuantity = 1.0
	DefaultPrice    = 0.0
)

// Field is one key/value pair as it appeared in a source document.
type Field struct {
	Key   string
	Value string
}

// Fields is an ordered field-set. Order matters: the first unclassified
// numeric value becomes the price.
type Fields []Field

// Record is a partially classified line item. Nil means the document did not
// provide the value.
type Record struct {
	Item     *string
	Quantity *float64
	Price    *float64
}

// RawRecord is a line item with defaults applied.
type RawRecord struct {
	Item     string  `json:"item"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

// Empty reports a record that carries nothing worth keeping.
func (r Record) Empty() bool {
	return (r.Item == nil || *r.Item == "") && r.Quantity == nil && r.Price == nil
}

func (r Record) Resolve() RawRecord {
	out := RawRecord{Item: DefaultItem, Quantity: DefaultQuantity, Price: DefaultPrice}
	if r.Item != nil && *r.Item != "" {
		out.Item = *r.Item
	}
	if r.Quantity != nil {
		out.Quantity = *r.Quantity
	}
	if r.Price != nil {
		out.Price = *r.Price
	}
	return out
}

type Target int

const (
	TargetItem Target = iota
	TargetQuantity
	TargetPrice
)

func (t Target) String() string {
	switch t {
	case TargetItem:
		return "item"
	case TargetQuantity:
		return "quantity"
	case TargetPrice:
		return "price"
	}
	return "unknown"
}

// Rule classifies a field key. Rules are tried in order; the first match wins.
type Rule struct {
	Name   string
	Match  func(key string) bool
	Target Target
}

// KeyContains matches keys containing any of the fragments, ignoring case.
func KeyContains(fragments ...string) func(string) bool {
	return func(key string) bool {
		k := strings.ToLower(key)
		for _, f := range fragments {
			if strings.Contains(k, f) {
				return true
			}
		}
		return false
	}
}

var DefaultRules = []Rule{
	{Name: "item", Match: KeyContains("item", "name", "desc"), Target: TargetItem},
	{Name: "quantity", Match: KeyContains("qty", "quantity", "count"), Target: TargetQuantity},
	{Name: "price", Match: KeyContains("price", "amount", "cost"), Target: TargetPrice},
}

// UnclassifiedRule decides what a field no Rule claims contributes to rec.
type UnclassifiedRule struct {
	Name  string
	Apply func(rec *Record, value string)
}

// RuleUnclassifiedPrice makes the first unclassified numeric value the price.
// Later unclassified numbers are ignored; a classified price key still
// overwrites it.
var RuleUnclassifiedPrice = UnclassifiedRule{
	Name: "unclassified-price",
	Apply: func(rec *Record, value string) {
		if rec.Price != nil {
			return
		}
		if v, isNum := ParseNumber(value); isNum {
			rec.Price = &v
		}
	},
}

// RuleIgnoreUnclassified drops every field no Rule claims.
var RuleIgnoreUnclassified = UnclassifiedRule{
	Name:  "ignore",
	Apply: func(*Record, string) {},
}

// Normalizer applies an ordered rule list. The zero value uses DefaultRules
// and RuleUnclassifiedPrice.
//
// A classified key always overwrites an earlier value for the same target.
type Normalizer struct {
	Rules        []Rule
	Unclassified *UnclassifiedRule
}

func (n Normalizer) rules() []Rule {
	if n.Rules == nil {
		return DefaultRules
	}
	return n.Rules
}

func (n Normalizer) unclassified() UnclassifiedRule {
	if n.Unclassified == nil {
		return RuleUnclassifiedPrice
	}
	return *n.Unclassified
}

func (n Normalizer) classify(key string) (Target, bool) {
	for _, r := range n.rules() {
		if r.Match(key) {
			return r.Target, true
		}
	}
	return 0, false
}

func (n Normalizer) Normalize(fields Fields) Record {
	var rec Record
	fallback := n.unclassified()

	for _, f := range fields {
		target, ok := n.classify(f.Key)
		if !ok {
			fallback.Apply(&rec, f.Value)
			continue
		}

		switch target {
		case TargetItem:
			item := strings.TrimSpace(f.Value)
			rec.Item = &item
		case TargetQuantity:
			if v, isNum := ParseNumber(f.Value); isNum {
				rec.Quantity = &v
			} else {
				rec.Quantity = nil
			}
		case TargetPrice:
			if v, isNum := ParseNumber(f.Value); isNum {
				rec.Price = &v
			} else {
				rec.Price = nil
			}
		}
	}

	return rec
}

// NormalizeAll normalizes every field-set and drops empty records. It returns
// the kept records with defaults applied and the number of dropped ones.
func (n Normalizer) NormalizeAll(sets []Fields) ([]RawRecord, int) {
	out := make([]RawRecord, 0, len(sets))
	skipped := 0
	for _, fs := range sets {
		rec := n.Normalize(fs)
		if rec.Empty() {
			skipped++
			continue
		}
		out = append(out, rec.Resolve())
	}
	return out, skipped
}

func isThousandsSeparator(r rune) bool {
	switch r {
	case ',', '\'', '_', '\u00a0', '\u202f':
		return true
	}
	return false
}

// ParseNumber reads a human formatted number such as "$1,234.50" or
// "€ 3.20". Currency symbols and thousands separators are ignored; empty,
// NaN and infinite values are not numbers.
func ParseNumber(s string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Sc, r) || isThousandsSeparator(r) {
			return -1
		}
		return r
	}, s)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return 0, false
	}

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
