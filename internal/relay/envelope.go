// Package relay merges the market-data stream and script alerts into one
// ordered queue and fans it out to websocket observers.
package relay

import (
	"fmt"

	"github.com/goccy/go-json"
)

// MessageType tags an envelope on the wire.
type MessageType string

const (
	TypePriceUpdate MessageType = "price_update"
	TypeScriptAlert MessageType = "script_alert"
	// TypeDisconnect is sent by an observer to end its session.
	TypeDisconnect MessageType = "disconnect"
)

// Priority of a script alert.
type Priority int

const (
	PriorityMid Priority = iota
	PriorityHigh
)

// PriorityFromCode maps a wire priority code: 1 is High, anything else Mid.
func PriorityFromCode(code int32) Priority {
	if code == 1 {
		return PriorityHigh
	}
	return PriorityMid
}

func (p Priority) String() string {
	if p == PriorityHigh {
		return "HIGH"
	}
	return "MID"
}

// MarshalText encodes the priority as HIGH or MID.
func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText decodes HIGH or MID.
func (p *Priority) UnmarshalText(b []byte) error {
	switch string(b) {
	case "HIGH":
		*p = PriorityHigh
	case "MID":
		*p = PriorityMid
	default:
		return fmt.Errorf("unknown priority %q", b)
	}
	return nil
}

// PriceUpdate is a market-data tick.
type PriceUpdate struct {
	Price    float64
	Quantity float64
}

// ScriptAlert is a notification raised by a running script.
type ScriptAlert struct {
	ScriptTitle string
	User        string
	Message     string
	Priority    Priority
}

// Envelope is one relayed notification. Exactly one payload is meaningful,
// selected by Type. Envelopes are passed and stored by value.
type Envelope struct {
	Type  MessageType
	Price PriceUpdate
	Alert ScriptAlert
}

// NewPriceUpdate builds a price_update envelope.
func NewPriceUpdate(price, quantity float64) Envelope {
	return Envelope{Type: TypePriceUpdate, Price: PriceUpdate{Price: price, Quantity: quantity}}
}

// NewScriptAlert builds a script_alert envelope from a wire priority code.
func NewScriptAlert(title, user, message string, priorityCode int32) Envelope {
	return Envelope{Type: TypeScriptAlert, Alert: ScriptAlert{
		ScriptTitle: title,
		User:        user,
		Message:     message,
		Priority:    PriorityFromCode(priorityCode),
	}}
}

type priceFrame struct {
	MessageType MessageType `json:"MessageType"`
	Price       float64     `json:"price"`
	Quantity    float64     `json:"quantity"`
}

type alertFrame struct {
	MessageType MessageType `json:"MessageType"`
	ScriptTitle string      `json:"script_title"`
	User        string      `json:"user"`
	Message     string      `json:"message"`
	Priority    Priority    `json:"priority"`
}

// wireFrame is the union of every field an observer may see.
type wireFrame struct {
	MessageType MessageType `json:"MessageType"`
	Price       float64     `json:"price"`
	Quantity    float64     `json:"quantity"`
	ScriptTitle string      `json:"script_title"`
	User        string      `json:"user"`
	Message     string      `json:"message"`
	Priority    *Priority   `json:"priority"`
}

// MarshalJSON writes the flat frame observers receive.
func (e Envelope) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case TypePriceUpdate:
		return json.Marshal(priceFrame{MessageType: e.Type, Price: e.Price.Price, Quantity: e.Price.Quantity})
	case TypeScriptAlert:
		a := e.Alert
		return json.Marshal(alertFrame{
			MessageType: e.Type,
			ScriptTitle: a.ScriptTitle,
			User:        a.User,
			Message:     a.Message,
			Priority:    a.Priority,
		})
	default:
		return nil, fmt.Errorf("cannot encode envelope of type %q", e.Type)
	}
}

// UnmarshalJSON parses a flat frame.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var f wireFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	switch f.MessageType {
	case TypePriceUpdate:
		*e = NewPriceUpdate(f.Price, f.Quantity)
	case TypeScriptAlert:
		*e = Envelope{Type: TypeScriptAlert, Alert: ScriptAlert{
			ScriptTitle: f.ScriptTitle,
			User:        f.User,
			Message:     f.Message,
		}}
		if f.Priority != nil {
			e.Alert.Priority = *f.Priority
		}
	default:
		return fmt.Errorf("unknown message type %q", f.MessageType)
	}
	return nil
}

// isDisconnect reports whether an inbound frame asks to end the session.
func isDisconnect(data []byte) bool {
	var f struct {
		MessageType MessageType `json:"MessageType"`
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return false
	}
	return f.MessageType == TypeDisconnect
}
