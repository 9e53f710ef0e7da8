package ingest

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/i5heu/cipher-tally/internal/metric"
	"github.com/i5heu/cipher-tally/internal/normalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeRecognizer struct {
	text string
	err  error
	wait bool
}

func (f fakeRecognizer) Recognize(ctx context.Context, _ []byte) (string, error) {
	if f.wait {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.text, f.err
}

func TestDelimitedParser(t *testing.T) {
	input := "\ufeffItem Name,Qty,Unit Price\n" +
		"Widget,12,$3.50\n" +
		"\n" +
		",,\n" +
		"Gadget,2\n" +
		"Bolt,10,0.25,extra\n"

	rows, err := DelimitedParser{}.Parse(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, normalize.Fields{
		{Key: "Item Name", Value: "Widget"},
		{Key: "Qty", Value: "12"},
		{Key: "Unit Price", Value: "$3.50"},
	}, rows[0])
	assert.Len(t, rows[1], 2)
	assert.Equal(t, normalize.Field{Key: "column4", Value: "extra"}, rows[2][3])
}

func TestDelimitedParserTabs(t *testing.T) {
	rows, err := DelimitedParser{Comma: '\t'}.Parse(context.Background(), strings.NewReader("name\tprice\nTea\t2.10\n"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2.10", rows[0][1].Value)

	rows, err = DelimitedParser{}.Parse(context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestJSONParserKeepsKeyOrder(t *testing.T) {
	input := `[
		{"sku": "A1", "total": 19.99, "tax": 1.5, "name": "Lamp"},
		{"name": "Cable", "qty": 3, "price": {"amount": "2.00", "currency": "EUR"}},
		"ignored scalar"
	]`

	rows, err := JSONParser{}.Parse(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, normalize.Fields{
		{Key: "sku", Value: "A1"},
		{Key: "total", Value: "19.99"},
		{Key: "tax", Value: "1.5"},
		{Key: "name", Value: "Lamp"},
	}, rows[0])
	assert.Equal(t, normalize.Field{Key: "price.amount", Value: "2.00"}, rows[1][2])

	// first unclassified numeric wins the price slot
	rec := normalize.Normalizer{}.Normalize(rows[0]).Resolve()
	assert.Equal(t, normalize.RawRecord{Item: "Lamp", Quantity: 1, Price: 19.99}, rec)
}

func TestJSONParserContainerObject(t *testing.T) {
	input := `{"store": "Corner Shop", "total": 99, "lines": [
		{"item": "Milk", "qty": 2, "price": 1.25},
		{"item": "Bread", "price": 3}
	]}`

	rows, err := JSONParser{}.Parse(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 2, "the container's own total must not become a row")
	assert.Equal(t, "Milk", rows[0][0].Value)

	rows, err = JSONParser{}.Parse(context.Background(), strings.NewReader(`{"item": "Solo", "price": "4"}`))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	_, err = JSONParser{}.Parse(context.Background(), strings.NewReader(`[{"item": `))
	assert.Error(t, err)
}

func TestJSONParserTruncatedInput(t *testing.T) {
	for _, input := range []string{`[{"item": `, `[{"item": "Milk"`, `{"lines": [`, `[`, `{"item": "Milk", "qty"`} {
		rows, err := JSONParser{}.Parse(context.Background(), strings.NewReader(input))
		require.ErrorIs(t, err, io.ErrUnexpectedEOF, input)
		assert.Nil(t, rows)
	}

	rows, err := JSONParser{}.Parse(context.Background(), strings.NewReader("  \n"))
	require.NoError(t, err, "an empty document has no rows")
	assert.Empty(t, rows)

	_, err = (&Ingester{}).Ingest(context.Background(), "cut.json", []byte(`[{"item": `))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	var noRows *NoRowsError
	assert.False(t, errors.As(err, &noRows))
}

func TestYAMLParser(t *testing.T) {
	input := `
- description: Paper
  count: 5
  cost: 0.40
- name: Stapler
  details:
    price: 7
`
	rows, err := YAMLParser{}.Parse(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, normalize.Fields{
		{Key: "description", Value: "Paper"},
		{Key: "count", Value: "5"},
		{Key: "cost", Value: "0.4"},
	}, rows[0])
	assert.Equal(t, normalize.Field{Key: "details.price", Value: "7"}, rows[1][1])

	rows, err = YAMLParser{}.Parse(context.Background(), strings.NewReader("item: Pen\nqty: 2\nprice: 1.5\n"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "item", rows[0][0].Key)
	assert.Equal(t, "qty", rows[0][1].Key)
}

func TestFreeTextParser(t *testing.T) {
	input := strings.Join([]string{
		"Blue Widget 4 19.99",
		"noise only text",
		"",
		"Coffee Mug $3.50",
		"Nails, 100, 0.02",
		"Glue | 1 | 4.75",
		"Ｔｅａ ２ １．２０",
		"single",
	}, "\n")

	rows, err := FreeTextParser{}.Parse(context.Background(), strings.NewReader(input))
	require.NoError(t, err)

	records, skipped := normalize.Normalizer{}.NormalizeAll(rows)
	assert.Equal(t, 0, skipped)
	assert.Equal(t, []normalize.RawRecord{
		{Item: "Blue Widget", Quantity: 4, Price: 19.99},
		{Item: "Coffee Mug", Quantity: 1, Price: 3.5},
		{Item: "Nails", Quantity: 100, Price: 0.02},
		{Item: "Glue", Quantity: 1, Price: 4.75},
		{Item: "Tea", Quantity: 2, Price: 1.2},
	}, records)
}

func TestPositionalStrategySkipsWordsBetweenNumbers(t *testing.T) {
	fields, ok := PositionalNumericStrategy{}.Match("Widget 4 x 19.99")
	require.True(t, ok)
	assert.Equal(t, normalize.Fields{
		{Key: keyItem, Value: "Widget"},
		{Key: keyQuantity, Value: "4"},
		{Key: keyPrice, Value: "19.99"},
	}, fields)

	_, ok = PositionalNumericStrategy{}.Match("noise only text")
	assert.False(t, ok)
}

func TestPositionalStrategyNeedsThreeTokens(t *testing.T) {
	for _, line := range []string{"TOTAL 10.00", "Subtotal: 5", "2 5.00"} {
		_, ok := PositionalNumericStrategy{}.Match(line)
		assert.False(t, ok, line)
	}
}

func TestFreeTextParserSkipsTotalLine(t *testing.T) {
	rows, err := FreeTextParser{}.Parse(context.Background(), strings.NewReader("Widget 2 5.00\nTOTAL 10.00\n"))
	require.NoError(t, err)

	records, skipped := normalize.Normalizer{}.NormalizeAll(rows)
	assert.Equal(t, 0, skipped)
	require.Equal(t, []normalize.RawRecord{{Item: "Widget", Quantity: 2, Price: 5}}, records)

	m, err := metric.Reduce(records)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, m, 1e-9)
}

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want Format
	}{
		{"a.CSV", nil, FormatDelimited},
		{"a.tsv", nil, FormatDelimited},
		{"a.json", nil, FormatStructured},
		{"a.yml", nil, FormatStructured},
		{"a.txt", nil, FormatText},
		{"scan.JPG", nil, FormatImage},
		{"upload", pngHeader, FormatImage},
		{"notes.md", []byte("Widget 2 3.00\n"), FormatText},
	}
	for _, tc := range cases {
		got, err := DetectFormat(tc.name, tc.data)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}

	_, err := DetectFormat("blob.bin", []byte{0x00, 0x01, 0x02, 0xff})
	var ufe *UnsupportedFormatError
	require.ErrorAs(t, err, &ufe)
	assert.Equal(t, ".bin", ufe.Ext)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestIngest(t *testing.T) {
	in := &Ingester{}

	res, err := in.Ingest(context.Background(), "receipt.csv", []byte("item,qty,price\nWidget,2,2.50\nnote,,\n"))
	require.NoError(t, err)
	assert.Equal(t, FormatDelimited, res.Format)
	assert.Equal(t, []normalize.RawRecord{{Item: "Widget", Quantity: 2, Price: 2.5}, {Item: "note", Quantity: 1, Price: 0}}, res.Records)

	res, err = in.Ingest(context.Background(), "empty.txt", []byte("nothing to see here\n"))
	var noRows *NoRowsError
	require.ErrorAs(t, err, &noRows)
	assert.ErrorIs(t, err, ErrNoRowsDetected)
	assert.Empty(t, res.Records)

	_, err = (&Ingester{MaxBytes: 4}).Ingest(context.Background(), "big.txt", []byte("12345"))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = in.Ingest(context.Background(), "photo.png", pngHeader)
	assert.ErrorIs(t, err, ErrNoRecognizer)
}

func TestRecognize(t *testing.T) {
	in := &Ingester{Recognizer: fakeRecognizer{text: "Receipt\r\nBlue Widget 4 19.99\r\nThank you\r\n"}}

	res, err := in.Ingest(context.Background(), "scan.png", pngHeader)
	require.NoError(t, err)
	assert.Equal(t, FormatImage, res.Format)
	assert.Equal(t, []normalize.RawRecord{{Item: "Blue Widget", Quantity: 4, Price: 19.99}}, res.Records)
	assert.Contains(t, res.RawText, "Thank you")

	in.Recognizer = fakeRecognizer{text: "  \n\t "}
	_, err = in.Recognize(context.Background(), "scan.png", pngHeader)
	assert.ErrorIs(t, err, ErrRecognitionEmpty)

	in.Recognizer = fakeRecognizer{text: "just words"}
	res, err = in.Recognize(context.Background(), "scan.png", pngHeader)
	var noRows *NoRowsError
	require.ErrorAs(t, err, &noRows)
	assert.Equal(t, "just words", noRows.RawText)
	assert.Equal(t, "just words", res.RawText)

	in.Recognizer = fakeRecognizer{err: errors.New("engine crashed")}
	_, err = in.Recognize(context.Background(), "scan.png", pngHeader)
	assert.ErrorContains(t, err, "engine crashed")
}

func TestRecognizeTimeout(t *testing.T) {
	in := &Ingester{Recognizer: fakeRecognizer{wait: true}, RecognizeTimeout: 20 * time.Millisecond}

	_, err := in.Recognize(context.Background(), "scan.png", pngHeader)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTesseractCLIMissingBinary(t *testing.T) {
	_, err := TesseractCLI{Binary: "/nonexistent/tesseract"}.Recognize(context.Background(), pngHeader)
	assert.Error(t, err)
}

func TestIngestAllKeepsOrder(t *testing.T) {
	in := &Ingester{}
	files := []File{
		{Name: "a.csv", Data: []byte("item,price\nA,1\n")},
		{Name: "b.bin", Data: []byte{0x00, 0xff}},
		{Name: "c.txt", Data: []byte("C 2 3\n")},
	}

	outcomes, err := in.IngestAll(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.NoError(t, outcomes[0].Err)
	assert.Equal(t, "A", outcomes[0].Result.Records[0].Item)
	assert.ErrorIs(t, outcomes[1].Err, ErrUnsupportedFormat)
	assert.NoError(t, outcomes[2].Err)
	assert.Equal(t, 6.0, outcomes[2].Result.Records[0].Quantity*outcomes[2].Result.Records[0].Price)
}
