package rpc

import "time"

// Empty is the empty request or reply.
type Empty struct{}

// Timestamp is a protobuf-style timestamp.
type Timestamp struct {
	Seconds int64 `json:"seconds"`
	Nanos   int32 `json:"nanos"`
}

// Time converts the timestamp to a time.Time.
func (t Timestamp) Time() time.Time { return time.Unix(t.Seconds, int64(t.Nanos)).UTC() }

// NewTimestamp converts a time.Time.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// PriceUpdate is one item of the market-data stream.
type PriceUpdate struct {
	Price        float64   `json:"price"`
	Quantity     float64   `json:"quantity"`
	InstrumentID string    `json:"instrument_id,omitempty"`
	Timestamp    Timestamp `json:"timestamp"`
}

// PriorityHigh is the alert priority code that maps to HIGH.
const PriorityHigh int32 = 1

// ScriptAlertNotif is pushed by a running script.
type ScriptAlertNotif struct {
	ScriptTitle string `json:"script_title"`
	User        string `json:"user"`
	Message     string `json:"message"`
	Priority    int32  `json:"priority"`
}

// ScriptSubmitRequest hands a script to the core for translation.
type ScriptSubmitRequest struct {
	Content string `json:"content"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
	User    string `json:"user"`
}

// ScriptSubmitReply is the core's answer to a submission.
type ScriptSubmitReply struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}
