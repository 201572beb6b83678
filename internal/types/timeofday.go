package types

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// TimeOfDay is a wall-clock time without a date, written as HH:MM.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses HH:MM (seconds, if present, are ignored).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var t TimeOfDay
	var sec int
	n, _ := fmt.Sscanf(s, "%d:%d:%d", &t.Hour, &t.Minute, &sec)
	if n < 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day %q out of range", s)
	}
	return t, nil
}

// MustParseTimeOfDay is ParseTimeOfDay for literals.
func MustParseTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t TimeOfDay) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeString(t.String())
}

func (t *TimeOfDay) DecodeMsgpack(dec *msgpack.Decoder) error {
	s, err := dec.DecodeString()
	if err != nil {
		return err
	}
	return t.UnmarshalText([]byte(s))
}
