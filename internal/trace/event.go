package trace

// EventType classifies a single trace event. The set is closed: anything
// a log line carries besides "in", "out" or "ack" is mapped to
// EventUnknown at parse time, so no code downstream of the parser ever
// compares raw strings.
type EventType int

const (
	EventUnknown EventType = iota
	EventIn                // component received a message
	EventOut               // component sent a message
	EventAck               // component acknowledged a message on behalf of a passive partner
)

// EventTypeFromString maps the EventType field of a log line to its
// EventType. The match is exact; unrecognized values become EventUnknown.
func EventTypeFromString(s string) EventType {
	switch s {
	case "in":
		return EventIn
	case "out":
		return EventOut
	case "ack":
		return EventAck
	default:
		return EventUnknown
	}
}

func (t EventType) String() string {
	switch t {
	case EventIn:
		return "in"
	case EventOut:
		return "out"
	case EventAck:
		return "ack"
	default:
		return "unknown"
	}
}

// Event is one observed message-handling event, produced by the parser
// from a well-formed trace log line. Events are immutable value records:
// created once by parsing, never mutated afterwards.
type Event struct {
	Component       string    // CompName: component that logged the event
	Replica         string    // ReplicaID: instance of that component, may be ""
	RemoteComponent string    // RemoteCompName: partner component
	Type            EventType // EventType
	ActivityID      string    // ActivityID: logical unit of work across hops
	EventTime       int64     // EventTime: timestamp in caller-defined units
	PayloadSize     int64     // PayloadSize: message size
}
