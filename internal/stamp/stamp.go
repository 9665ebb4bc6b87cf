// Package stamp implements the producer-side sequence-number
// property convention of spec §4.3/§6: every tracked message carries
// a sequence_number header, and optionally a sequence_tgt_max header
// advertising the total expected cycle count minus one.
//
// Grounded on ws/kafka/consumer.go's record.Key/record.Value
// extraction idiom, extended from the key to record headers since
// franz-go headers are the natural place for out-of-band metadata
// that isn't the partitioning key.
package stamp

import (
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"
)

// HeaderSequenceNumber is the wire-level property name carrying the
// decimal ASCII sequence number, per spec §6.
const HeaderSequenceNumber = "sequence_number"

// HeaderSequenceTgtMax is the wire-level property name carrying the
// advisory target ceiling, per spec §6.
const HeaderSequenceTgtMax = "sequence_tgt_max"

// Apply stamps a record with the given sequence number, and, when
// targetMax >= 0, the advisory ceiling. Records intended for tracking
// must go through Apply before being handed to the producer client.
func Apply(rec *kgo.Record, n int64, targetMax int64) {
	rec.Headers = append(rec.Headers, kgo.RecordHeader{
		Key:   HeaderSequenceNumber,
		Value: []byte(strconv.FormatInt(n, 10)),
	})
	if targetMax >= 0 {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{
			Key:   HeaderSequenceTgtMax,
			Value: []byte(strconv.FormatInt(targetMax, 10)),
		})
	}
}

// Extract reads the sequence_number header from a received record.
// ok is false when the header is absent or not a valid non-negative
// 64-bit integer; per spec §4.3/§7, absence or malformed values
// disable tracking for that message rather than raising an error.
func Extract(rec *kgo.Record) (n int64, ok bool) {
	raw, found := header(rec, HeaderSequenceNumber)
	if !found {
		return 0, false
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ExtractTargetMax reads the optional sequence_tgt_max header. ok is
// false when absent or malformed.
func ExtractTargetMax(rec *kgo.Record) (max int64, ok bool) {
	raw, found := header(rec, HeaderSequenceTgtMax)
	if !found {
		return 0, false
	}
	max, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || max < 0 {
		return 0, false
	}
	return max, true
}

func header(rec *kgo.Record, key string) ([]byte, bool) {
	for _, h := range rec.Headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return nil, false
}
