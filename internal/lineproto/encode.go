package lineproto

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	protocol "github.com/influxdata/line-protocol"
)

// MaxLineBytes bounds one encoded line; readings never legitimately get close.
const MaxLineBytes = 64 << 10

// EncodeError reports a reading that cannot satisfy the line-protocol grammar.
// Params: measurement under encode and violation reason.
// Returns: terminal encoding error, matchable with errors.As.
type EncodeError struct {
	Measurement string
	Reason      string
}

// Error formats the encode failure.
// Params: none.
// Returns: error text.
func (e *EncodeError) Error() string {
	if e.Measurement == "" {
		return fmt.Sprintf("encode reading: %s", e.Reason)
	}
	return fmt.Sprintf("encode %s reading: %s", e.Measurement, e.Reason)
}

// metric adapts one validated Reading to the line-protocol Metric interface
// with deterministic tag and field order.
type metric struct {
	reading Reading
	tags    []*protocol.Tag
	fields  []*protocol.Field
}

// newMetric builds the sorted adapter for one reading.
// Params: validated reading.
// Returns: protocol.Metric implementation.
func newMetric(reading Reading) *metric {
	tags := make([]*protocol.Tag, 0, len(reading.Tags))
	for key, value := range reading.Tags {
		tags = append(tags, &protocol.Tag{Key: key, Value: value})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })

	fields := make([]*protocol.Field, 0, len(reading.Fields))
	for key, value := range reading.Fields {
		fields = append(fields, &protocol.Field{Key: key, Value: value})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Key < fields[j].Key })

	return &metric{reading: reading, tags: tags, fields: fields}
}

// Time returns the reading sample time.
// Params: none.
// Returns: sample time used for the trailing nanosecond timestamp.
func (m *metric) Time() time.Time {
	return m.reading.Time
}

// Name returns the measurement name.
// Params: none.
// Returns: measurement string.
func (m *metric) Name() string {
	return m.reading.Measurement
}

// TagList returns tags in key order.
// Params: none.
// Returns: sorted tag list.
func (m *metric) TagList() []*protocol.Tag {
	return m.tags
}

// FieldList returns fields in key order.
// Params: none.
// Returns: sorted field list.
func (m *metric) FieldList() []*protocol.Field {
	return m.fields
}

// Marshal encodes one reading into one line-protocol line with trailing newline.
// Params: reading to encode.
// Returns: encoded line bytes or *EncodeError; output is all-or-nothing.
func Marshal(reading Reading) ([]byte, error) {
	if err := reading.validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := protocol.NewEncoder(&buf)
	enc.SetMaxLineBytes(MaxLineBytes)
	enc.FailOnFieldErr(true)

	if _, err := enc.Encode(newMetric(reading)); err != nil {
		return nil, &EncodeError{Measurement: reading.Measurement, Reason: err.Error()}
	}

	return buf.Bytes(), nil
}

// MarshalAll encodes readings in order into one newline-separated batch.
// Params: reading list; empty input yields empty output.
// Returns: concatenated line bytes, or the first *EncodeError with no partial output.
func MarshalAll(readings []Reading) ([]byte, error) {
	if len(readings) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	for _, reading := range readings {
		line, err := Marshal(reading)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
	}

	return buf.Bytes(), nil
}
