package hsm

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/statecraft/hsm/embedded"
)

// Event is an alias of the embedded.Event interface, the type of every
// event dispatched into a machine; NewEvent builds the package's concrete
// implementation. The empty name denotes a NULL (eventless) event (spec §3).
type Event = embedded.Event

type event struct {
	kind uint64
	name string
	id   string
	data any
}

func (e *event) Kind() uint64 { return Kinds.Event }
func (e *event) Name() string {
	if e == nil {
		return ""
	}
	return e.name
}
func (e *event) Data() any {
	if e == nil {
		return nil
	}
	return e.data
}
func (e *event) Id() string {
	if e == nil {
		return ""
	}
	return e.id
}

// Clone produces a new event with the same name carrying different data,
// optionally overriding the id (used when re-routing a raise/send through
// the internal/external queue).
func (e *event) Clone(data any, maybeId ...string) embedded.Event {
	id := e.id
	if len(maybeId) > 0 {
		id = maybeId[0]
	}
	return &event{kind: e.kind, name: e.name, id: id, data: data}
}

func (e *event) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"name": e.name,
		"id":   e.id,
		"data": e.data,
	})
}

func (e *event) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if name, ok := m["name"].(string); ok {
		e.name = name
	}
	if id, ok := m["id"].(string); ok {
		e.id = id
	}
	e.data = m["data"]
	return nil
}

var eventPool = sync.Pool{New: func() any { return &event{} }}

// NewEvent constructs a named event, stamping it with a fresh uuid unless
// the caller wants an unstamped NULL event (name == "").
func NewEvent(name string, maybeData ...any) embedded.Event {
	var data any
	if len(maybeData) > 0 {
		data = maybeData[0]
	}
	e := eventPool.Get().(*event)
	e.kind = Kinds.Event
	e.name = name
	e.data = data
	e.id = ""
	if name != "" {
		if id, err := uuid.NewV7(); err == nil {
			e.id = id.String()
		}
	}
	return e
}

// nullEvent is the shared sentinel representing the eventless transition
// type and the eventless-closure marker pushed onto the internal queue.
var nullEvent embedded.Event = &event{kind: Kinds.NullEvent, name: ""}

func isNullEvent(e embedded.Event) bool {
	return e == nil || e.Name() == ""
}

// EventOrigin identifies the sender of an event, as the Origin field of an
// SCXMLEvent envelope (spec §4.7 "Origin"). Nothing in this package stamps
// an origin onto events it sends.
type EventOrigin struct {
	ActorId string
}

// EventType classifies an SCXML event envelope (spec §3).
type EventType string

const (
	EventTypeExternal EventType = "external"
	EventTypeInternal EventType = "internal"
	EventTypePlatform EventType = "platform"
	EventTypeError    EventType = "error"
)

// SCXMLEvent is the shape of the `_event` envelope (spec §3, §4.7), the
// type of State.InternalEvent. The machine copies that field from state to
// state but never fills it in, so it stays the zero value unless a caller
// sets it.
type SCXMLEvent struct {
	Name   string      `json:"name"`
	Type   EventType   `json:"type"`
	SendId string      `json:"sendid,omitempty"`
	Origin *EventOrigin `json:"origin,omitempty"`
	Data   any         `json:"data,omitempty"`
}

func envelopeFor(e embedded.Event, typ EventType, origin *EventOrigin) SCXMLEvent {
	if e == nil {
		return SCXMLEvent{Type: typ, Origin: origin}
	}
	return SCXMLEvent{Name: e.Name(), Type: typ, SendId: e.Id(), Origin: origin, Data: e.Data()}
}
