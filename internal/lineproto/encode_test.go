package lineproto

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestMarshalRecoveryRoundTrip(t *testing.T) {
	reading := Reading{
		Measurement: "recovery",
		Tags:        map[string]string{"source": "whoop"},
		Fields:      map[string]float64{"recovery_score": 67},
		Time:        time.Unix(1700000000, 0).UTC(),
	}

	line, err := Marshal(reading)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	want := "recovery,source=whoop recovery_score=67 1700000000000000000\n"
	if string(line) != want {
		t.Fatalf("unexpected line:\n got=%q\nwant=%q", string(line), want)
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	reading := Reading{
		Measurement: "sleep",
		Tags:        map[string]string{"user_id": "42", "source": "whoop"},
		Fields:      map[string]float64{"sleep_score": 88, "efficiency": 92.5},
		Time:        time.Unix(1700000000, 0).UTC(),
	}

	first, err := Marshal(reading)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	second, err := Marshal(reading)
	if err != nil {
		t.Fatalf("Marshal() second error: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Fatalf("non-deterministic output:\n first=%q\nsecond=%q", string(first), string(second))
	}

	want := "sleep,source=whoop,user_id=42 efficiency=92.5,sleep_score=88 1700000000000000000\n"
	if string(first) != want {
		t.Fatalf("unexpected line:\n got=%q\nwant=%q", string(first), want)
	}
}

func TestMarshalRejectsIncompleteReadings(t *testing.T) {
	sample := time.Unix(1700000000, 0).UTC()

	cases := []struct {
		name    string
		reading Reading
	}{
		{
			name:    "missing measurement",
			reading: Reading{Fields: map[string]float64{"bpm": 60}, Time: sample},
		},
		{
			name:    "missing fields",
			reading: Reading{Measurement: "heartrate", Time: sample},
		},
		{
			name:    "missing timestamp",
			reading: Reading{Measurement: "heartrate", Fields: map[string]float64{"bpm": 60}},
		},
		{
			name: "empty tag value",
			reading: Reading{
				Measurement: "heartrate",
				Tags:        map[string]string{"user_id": ""},
				Fields:      map[string]float64{"bpm": 60},
				Time:        sample,
			},
		},
		{
			name: "empty field key",
			reading: Reading{
				Measurement: "heartrate",
				Fields:      map[string]float64{"": 60},
				Time:        sample,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			line, err := Marshal(tc.reading)
			if err == nil {
				t.Fatalf("expected error, got line %q", string(line))
			}

			var encodeErr *EncodeError
			if !errors.As(err, &encodeErr) {
				t.Fatalf("expected *EncodeError, got %T: %v", err, err)
			}
			if len(line) != 0 {
				t.Fatalf("expected no partial output, got %q", string(line))
			}
		})
	}
}

func TestMarshalAllEmptyInput(t *testing.T) {
	batch, err := MarshalAll(nil)
	if err != nil {
		t.Fatalf("MarshalAll() error: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("expected empty batch, got %q", string(batch))
	}
}

func TestMarshalAllFailsWithoutPartialOutput(t *testing.T) {
	sample := time.Unix(1700000000, 0).UTC()
	readings := []Reading{
		{
			Measurement: "heartrate",
			Fields:      map[string]float64{"bpm": 62},
			Time:        sample,
		},
		{
			Measurement: "heartrate",
			Time:        sample,
		},
	}

	batch, err := MarshalAll(readings)
	if err == nil {
		t.Fatalf("expected error, got batch %q", string(batch))
	}

	var encodeErr *EncodeError
	if !errors.As(err, &encodeErr) {
		t.Fatalf("expected *EncodeError, got %T: %v", err, err)
	}
	if len(batch) != 0 {
		t.Fatalf("expected no partial batch, got %q", string(batch))
	}
}

func TestWithTagDoesNotMutateReceiver(t *testing.T) {
	base := Reading{
		Measurement: "heartrate",
		Tags:        map[string]string{"source": "whoop"},
		Fields:      map[string]float64{"bpm": 62},
		Time:        time.Unix(1700000000, 0).UTC(),
	}

	tagged := base.WithTag("user_id", "42")
	if _, ok := base.Tags["user_id"]; ok {
		t.Fatalf("receiver tags mutated: %v", base.Tags)
	}
	if tagged.Tags["user_id"] != "42" || tagged.Tags["source"] != "whoop" {
		t.Fatalf("unexpected tag set: %v", tagged.Tags)
	}
}
