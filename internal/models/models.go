package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the class of captured interaction.
type Kind string

const (
	KindMouseMove   Kind = "mouse_move"
	KindMouseClick  Kind = "mouse_click"
	KindMouseScroll Kind = "mouse_scroll"
	KindKeyPress    Kind = "key_press"
	KindWindowFocus Kind = "window_focus"
)

// Kinds lists every supported kind in a stable order.
var Kinds = []Kind{KindMouseMove, KindMouseClick, KindMouseScroll, KindKeyPress, KindWindowFocus}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindMouseMove, KindMouseClick, KindMouseScroll, KindKeyPress, KindWindowFocus:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// Payload is the kind-specific portion of a record. The marker method keeps
// the set of payload shapes closed.
type Payload interface {
	PayloadKind() Kind
}

type MouseMove struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type MouseClick struct {
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Button  string `json:"button"`
	Pressed bool   `json:"pressed"`
}

type MouseScroll struct {
	X  int `json:"x"`
	Y  int `json:"y"`
	DX int `json:"dx"`
	DY int `json:"dy"`
}

type KeyPress struct {
	Key     string `json:"key"`
	Pressed bool   `json:"pressed"`
}

type WindowFocus struct {
	Title       string `json:"title"`
	ProcessName string `json:"process_name"`
}

func (MouseMove) PayloadKind() Kind   { return KindMouseMove }
func (MouseClick) PayloadKind() Kind  { return KindMouseClick }
func (MouseScroll) PayloadKind() Kind { return KindMouseScroll }
func (KeyPress) PayloadKind() Kind    { return KindKeyPress }
func (WindowFocus) PayloadKind() Kind { return KindWindowFocus }

// timestampLayout keeps a fixed six-digit fraction so file contents are
// byte-stable and records survive a round trip at microsecond resolution.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

// Record is one captured interaction. Records are immutable once built:
// constructors copy everything in, and consumers only ever read them.
type Record struct {
	Kind      Kind
	Timestamp time.Time
	Payload   Payload
}

// NewRecord pairs a payload with its timestamp. The kind comes from the
// payload itself, so a record can never carry a mismatched kind/payload
// combination. Timestamps are normalised to UTC at microsecond resolution.
func NewRecord(ts time.Time, payload Payload) Record {
	return Record{
		Kind:      payload.PayloadKind(),
		Timestamp: ts.UTC().Truncate(time.Microsecond),
		Payload:   payload,
	}
}

type recordJSON struct {
	Kind      Kind            `json:"kind"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// MarshalJSON emits the wire shape {"kind":..., "timestamp":..., "payload":{...}}.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.Payload == nil {
		return nil, fmt.Errorf("record %s has no payload", r.Kind)
	}
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", r.Kind, err)
	}
	return json.Marshal(recordJSON{
		Kind:      r.Kind,
		Timestamp: r.Timestamp.UTC().Format(timestampLayout),
		Payload:   payload,
	})
}

// UnmarshalJSON decodes the envelope and dispatches on kind to recover the
// concrete payload type. Every supported kind must be handled here.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := time.Parse(timestampLayout, raw.Timestamp)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", raw.Timestamp, err)
	}

	var payload Payload
	switch raw.Kind {
	case KindMouseMove:
		var p MouseMove
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", raw.Kind, err)
		}
		payload = p
	case KindMouseClick:
		var p MouseClick
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", raw.Kind, err)
		}
		payload = p
	case KindMouseScroll:
		var p MouseScroll
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", raw.Kind, err)
		}
		payload = p
	case KindKeyPress:
		var p KeyPress
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", raw.Kind, err)
		}
		payload = p
	case KindWindowFocus:
		var p WindowFocus
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", raw.Kind, err)
		}
		payload = p
	default:
		return fmt.Errorf("unknown event kind %q", raw.Kind)
	}

	r.Kind = raw.Kind
	r.Timestamp = ts.UTC()
	r.Payload = payload
	return nil
}
