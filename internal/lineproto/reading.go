package lineproto

import (
	"fmt"
	"strings"
	"time"
)

// Reading is one timestamped set of metric values fetched from the vendor API.
// Params: measurement name, tag set, numeric field set, and sample time.
// Returns: typed record consumed once by the encoder.
type Reading struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]float64
	Time        time.Time
}

// WithTag returns a copy of the reading with one extra tag set.
// Params: key/value tag pair.
// Returns: new reading; the receiver is not mutated.
func (r Reading) WithTag(key string, value string) Reading {
	tags := make(map[string]string, len(r.Tags)+1)
	for k, v := range r.Tags {
		tags[k] = v
	}
	tags[key] = value

	out := r
	out.Tags = tags
	return out
}

// validate checks grammar requirements before any bytes are produced.
// Params: receiver reading.
// Returns: *EncodeError describing the first violation, or nil.
func (r Reading) validate() error {
	if strings.TrimSpace(r.Measurement) == "" {
		return &EncodeError{Measurement: r.Measurement, Reason: "measurement is required"}
	}
	if len(r.Fields) == 0 {
		return &EncodeError{Measurement: r.Measurement, Reason: "at least one field is required"}
	}
	if r.Time.IsZero() {
		return &EncodeError{Measurement: r.Measurement, Reason: "timestamp is required"}
	}

	for key, value := range r.Tags {
		if strings.TrimSpace(key) == "" {
			return &EncodeError{Measurement: r.Measurement, Reason: "tag key cannot be empty"}
		}
		if strings.TrimSpace(value) == "" {
			return &EncodeError{Measurement: r.Measurement, Reason: fmt.Sprintf("tag %q cannot be empty", key)}
		}
	}
	for key := range r.Fields {
		if strings.TrimSpace(key) == "" {
			return &EncodeError{Measurement: r.Measurement, Reason: "field key cannot be empty"}
		}
	}

	return nil
}
