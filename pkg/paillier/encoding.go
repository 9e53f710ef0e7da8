package paillier

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var ErrMalformedInteger = errors.New("paillier: malformed integer encoding")

// EncodeCiphertext renders c as standard base64 of its big-endian bytes.
func EncodeCiphertext(c *big.Int) string {
	return base64.StdEncoding.EncodeToString(c.Bytes())
}

// ParseCiphertext accepts padded or unpadded standard base64.
func ParseCiphertext(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty ciphertext", ErrMalformedInteger)
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedInteger, err)
		}
	}
	return new(big.Int).SetBytes(raw), nil
}

// ParseDecimal parses a non-negative base-10 integer as used for N and g on
// the wire.
func ParseDecimal(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrMalformedInteger, s)
	}
	return v, nil
}
