package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/i5heu/cipher-tally/internal/normalize"
	"gopkg.in/yaml.v2"
)

// member and object keep keys in document order; encoding/json and yaml.v2
// maps would lose it.
type member struct {
	key   string
	value interface{}
}

type object []member

// JSONParser accepts a top-level array (one element per row) or a single
// object.
type JSONParser struct{}

func (JSONParser) Parse(ctx context.Context, r io.Reader) ([]normalize.Fields, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	top, err := decodeOrdered(dec)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decoding json: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rowsFrom(top), nil
}

// decodeOrdered reads one value. io.EOF is returned only when the stream is
// empty; running out of input inside a value is io.ErrUnexpectedEOF.
func decodeOrdered(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeValue(dec, tok)
}

func nextToken(dec *json.Decoder) (json.Token, error) {
	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return nil, io.ErrUnexpectedEOF
	}
	return tok, err
}

func decodeValue(dec *json.Decoder, tok json.Token) (interface{}, error) {
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}

	switch delim {
	case '{':
		var obj object
		for dec.More() {
			keyTok, err := nextToken(dec)
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected object key %v", keyTok)
			}
			valTok, err := nextToken(dec)
			if err != nil {
				return nil, err
			}
			v, err := decodeValue(dec, valTok)
			if err != nil {
				return nil, err
			}
			obj = append(obj, member{key: key, value: v})
		}
		if err := closeDelim(dec, '}'); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		var arr []interface{}
		for dec.More() {
			elemTok, err := nextToken(dec)
			if err != nil {
				return nil, err
			}
			v, err := decodeValue(dec, elemTok)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if err := closeDelim(dec, ']'); err != nil {
			return nil, err
		}
		return arr, nil
	}
	return nil, fmt.Errorf("unexpected delimiter %v", delim)
}

func closeDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := nextToken(dec)
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %v, got %v", want, tok)
	}
	return nil
}

// YAMLParser mirrors JSONParser for YAML documents.
type YAMLParser struct{}

func (YAMLParser) Parse(ctx context.Context, r io.Reader) ([]normalize.Fields, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding yaml: %w", err)
	}

	// Decode a second time into MapSlice-based types so key order survives.
	switch doc.(type) {
	case map[interface{}]interface{}:
		var mapping yaml.MapSlice
		if err := yaml.Unmarshal(data, &mapping); err == nil {
			doc = mapping
		}
	case []interface{}:
		var elements []yaml.MapSlice
		if err := yaml.Unmarshal(data, &elements); err == nil {
			seq := make([]interface{}, len(elements))
			for i, e := range elements {
				seq[i] = e
			}
			doc = seq
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rowsFrom(fromYAML(doc)), nil
}

func fromYAML(v interface{}) interface{} {
	switch val := v.(type) {
	case yaml.MapSlice:
		obj := make(object, 0, len(val))
		for _, item := range val {
			obj = append(obj, member{key: fmt.Sprint(item.Key), value: fromYAML(item.Value)})
		}
		return obj
	case map[interface{}]interface{}:
		keys := make([]string, 0, len(val))
		byKey := make(map[string]interface{}, len(val))
		for k, v := range val {
			ks := fmt.Sprint(k)
			keys = append(keys, ks)
			byKey[ks] = v
		}
		sort.Strings(keys)
		obj := make(object, 0, len(keys))
		for _, k := range keys {
			obj = append(obj, member{key: k, value: fromYAML(byKey[k])})
		}
		return obj
	case []interface{}:
		arr := make([]interface{}, len(val))
		for i, e := range val {
			arr[i] = fromYAML(e)
		}
		return arr
	}
	return v
}

func rowsFrom(top interface{}) []normalize.Fields {
	switch v := top.(type) {
	case []interface{}:
		var rows []normalize.Fields
		for _, e := range v {
			rows = append(rows, elementRows(e)...)
		}
		return rows
	case object:
		return elementRows(v)
	}
	return nil
}

// elementRows flattens one element. If the element holds arrays of objects it
// is treated as a container and only those nested objects become rows.
func elementRows(v interface{}) []normalize.Fields {
	obj, ok := v.(object)
	if !ok {
		return nil
	}

	var own normalize.Fields
	var nested []normalize.Fields
	flatten("", obj, &own, &nested)
	if len(nested) > 0 {
		return nested
	}
	return []normalize.Fields{own}
}

func flatten(prefix string, obj object, own *normalize.Fields, nested *[]normalize.Fields) {
	for _, m := range obj {
		key := m.key
		if prefix != "" {
			key = prefix + "." + m.key
		}

		switch val := m.value.(type) {
		case object:
			flatten(key, val, own, nested)
		case []interface{}:
			for _, e := range val {
				*nested = append(*nested, elementRows(e)...)
			}
		default:
			*own = append(*own, normalize.Field{Key: key, Value: scalarString(val)})
		}
	}
}

func scalarString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}
