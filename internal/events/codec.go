package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrUnknownEvent is returned by Decode for names outside Names.
var ErrUnknownEvent = errors.New("unknown event")

// Envelope is the wire frame for one event. Payload holds the msgpack encoding
// of the event struct for Name.
type Envelope struct {
	Name      Name               `json:"name"`
	MachineID string             `json:"machineId"`
	Payload   msgpack.RawMessage `json:"payload"`
}

// Marshal encodes v with msgpack, reading field names from json tags so the
// msgpack and JSON forms of a type agree.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal is the inverse of Marshal.
func Unmarshal(b []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

// Encode wraps e in an envelope.
func Encode(e Event) (Envelope, error) {
	payload, err := Marshal(e)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s: %w", e.EventName(), err)
	}
	return Envelope{Name: e.EventName(), MachineID: e.Machine(), Payload: payload}, nil
}

// MustEncode is Encode for events built in code, which always encode.
func MustEncode(e Event) Envelope {
	env, err := Encode(e)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode turns an envelope back into its typed event.
func Decode(env Envelope) (Event, error) {
	var (
		e   Event
		err error
	)
	switch env.Name {
	case NameProductionUpdate:
		e, err = decodeAs[ProductionUpdate](env.Payload)
	case NameRunningTimeUpdate:
		e, err = decodeAs[RunningTimeUpdate](env.Payload)
	case NameUnclassifiedStoppageDetected:
		e, err = decodeAs[UnclassifiedStoppageDetected](env.Payload)
	case NameStoppageAdded:
		e, err = decodeAs[StoppageAdded](env.Payload)
	case NameStoppageUpdated:
		e, err = decodeAs[StoppageUpdated](env.Payload)
	case NameAssignmentUpdated:
		e, err = decodeAs[AssignmentUpdated](env.Payload)
	case NameMachineStateUpdate:
		e, err = decodeAs[MachineStateUpdate](env.Payload)
	default:
		return nil, fmt.Errorf("%q: %w", env.Name, ErrUnknownEvent)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", env.Name, err)
	}
	if e.Machine() != env.MachineID {
		return nil, fmt.Errorf("decoding %s: payload machine %q does not match envelope machine %q", env.Name, e.Machine(), env.MachineID)
	}
	return e, nil
}

func decodeAs[T Event](b []byte) (Event, error) {
	var v T
	if err := Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// FromJSON decodes the JSON form of the event called name, as posted to the
// reference server's ingestion endpoint.
func FromJSON(name Name, b []byte) (Event, error) {
	var (
		e   Event
		err error
	)
	switch name {
	case NameProductionUpdate:
		e, err = decodeJSONAs[ProductionUpdate](b)
	case NameRunningTimeUpdate:
		e, err = decodeJSONAs[RunningTimeUpdate](b)
	case NameUnclassifiedStoppageDetected:
		e, err = decodeJSONAs[UnclassifiedStoppageDetected](b)
	case NameStoppageAdded:
		e, err = decodeJSONAs[StoppageAdded](b)
	case NameStoppageUpdated:
		e, err = decodeJSONAs[StoppageUpdated](b)
	case NameAssignmentUpdated:
		e, err = decodeJSONAs[AssignmentUpdated](b)
	case NameMachineStateUpdate:
		e, err = decodeJSONAs[MachineStateUpdate](b)
	default:
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownEvent)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	return e, nil
}

func decodeJSONAs[T Event](b []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// MarshalEnvelope encodes a whole envelope, as sent over byte-oriented
// transports.
func MarshalEnvelope(env Envelope) ([]byte, error) {
	return Marshal(env)
}

// UnmarshalEnvelope decodes a frame produced by MarshalEnvelope.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	return env, nil
}
