// Package progress carries per-probe progress events from a scan to a sink.
//
// Two message shapes exist on the wire: an Update per finished probe and a
// single terminal Completion. Both carry a "type" discriminant; the
// "completed" field is a counter in updates and a boolean in the completion.
package progress

import (
	"context"
	"encoding/json"
)

type Kind string

const (
	KindUpdate     Kind = "progress"
	KindCompletion Kind = "complete"
)

// Event is either an Update or a Completion.
type Event interface {
	Kind() Kind
}

// Update is emitted once per finished probe, in completion order.
type Update struct {
	Site      string `json:"site"`
	Status    string `json:"status"`
	URL       string `json:"url"`
	LogoURL   string `json:"logo_url"`
	Error     string `json:"error,omitempty"`
	IsTaken   bool   `json:"is_taken"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

func (Update) Kind() Kind { return KindUpdate }

func (u Update) MarshalJSON() ([]byte, error) {
	type plain Update
	var errField *string
	if u.Error != "" {
		errField = &u.Error
	}
	return json.Marshal(struct {
		Type Kind `json:"type"`
		plain
		Error *string `json:"error"`
	}{KindUpdate, plain(u), errField})
}

// Completion terminates a stream of updates.
type Completion struct {
	Total int `json:"total"`
}

func (Completion) Kind() Kind { return KindCompletion }

func (c Completion) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      Kind `json:"type"`
		Completed bool `json:"completed"`
		Total     int  `json:"total"`
	}{KindCompletion, true, c.Total})
}

// Decode parses a message produced by Update or Completion.
func Decode(b []byte) (Event, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case KindCompletion:
		var c Completion
		err := json.Unmarshal(b, &c)
		return c, err
	default:
		var raw struct {
			Update
			Error *string `json:"error"`
		}
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, err
		}
		u := raw.Update
		if raw.Error != nil {
			u.Error = *raw.Error
		}
		return u, nil
	}
}

// Sink receives progress events. Emit must not fail the run: implementations
// handle their own delivery errors.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// Nop drops every event.
var Nop Sink = SinkFunc(func(context.Context, Event) {})

// Multi fans events out to every sink in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, ev Event) {
		for _, s := range sinks {
			if s != nil {
				s.Emit(ctx, ev)
			}
		}
	})
}
