package store

import (
	"fmt"
	"time"

	"github.com/i5heu/cipher-tally/pkg/paillier"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldID         protowire.Number = 1
	fieldSeq        protowire.Number = 2
	fieldCiphertext protowire.Number = 3
	fieldKeyID      protowire.Number = 4
	fieldDigest     protowire.Number = 5
	fieldFilename   protowire.Number = 6
	fieldScale      protowire.Number = 7
	fieldMetricInt  protowire.Number = 8
	fieldTimestamp  protowire.Number = 9
	fieldLedgerRef  protowire.Number = 10
)

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func marshalSubmission(s Submission) []byte {
	var b []byte
	b = appendString(b, fieldID, s.ID)
	b = appendVarint(b, fieldSeq, s.Seq)
	b = appendString(b, fieldCiphertext, paillier.EncodeCiphertext(s.Ciphertext))
	b = appendString(b, fieldKeyID, s.KeyID)
	b = appendString(b, fieldDigest, s.Digest)
	b = appendString(b, fieldFilename, s.Meta.Filename)
	b = appendVarint(b, fieldScale, protowire.EncodeZigZag(s.Meta.Scale))
	b = appendString(b, fieldMetricInt, s.Meta.MetricInt)
	b = appendVarint(b, fieldTimestamp, protowire.EncodeZigZag(s.Meta.Timestamp.UnixNano()))
	b = appendString(b, fieldLedgerRef, s.Meta.LedgerRef)
	return b
}

func unmarshalSubmission(b []byte) (Submission, error) {
	var s Submission
	var ciphertext string

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return s, fmt.Errorf("bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return s, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldID:
				s.ID = v
			case fieldCiphertext:
				ciphertext = v
			case fieldKeyID:
				s.KeyID = v
			case fieldDigest:
				s.Digest = v
			case fieldFilename:
				s.Meta.Filename = v
			case fieldMetricInt:
				s.Meta.MetricInt = v
			case fieldLedgerRef:
				s.Meta.LedgerRef = v
			}
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return s, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldSeq:
				s.Seq = v
			case fieldScale:
				s.Meta.Scale = protowire.DecodeZigZag(v)
			case fieldTimestamp:
				s.Meta.Timestamp = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return s, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	c, err := paillier.ParseCiphertext(ciphertext)
	if err != nil {
		return s, fmt.Errorf("submission %s: %w", s.ID, err)
	}
	s.Ciphertext = c
	return s, nil
}
