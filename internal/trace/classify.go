package trace

// ComponentType is the logging role of a component, derived from a full
// pass over an event set.
type ComponentType int

const (
	ComponentUnknown ComponentType = iota // placeholder, never assigned to a real component
	ComponentSource                       // logs only its own outbound events (external input)
	ComponentActive                       // logs its own inbound and outbound events
	ComponentPassive                      // logs nothing itself, seen only as the remote of ack events
)

func (t ComponentType) String() string {
	switch t {
	case ComponentSource:
		return "Source"
	case ComponentActive:
		return "Active"
	case ComponentPassive:
		return "Passive"
	default:
		return "Unknown"
	}
}

// Classify derives the role of every component name appearing in the
// event set. An IN event always marks its component Active, overriding
// any provisional classification regardless of where in the set it
// occurs; an OUT event marks its component Source only when the
// component is still unclassified; an ACK event marks its *remote*
// component Passive only when that component is still unclassified.
// The result is therefore invariant under permutation of the input.
//
// We trust that the trace is well-formed in that no component both logs
// its own events and has a partner logging ack for it. If it happens
// anyway, the component counts as Active.
func Classify(events []Event) map[string]ComponentType {
	result := make(map[string]ComponentType)
	for _, e := range events {
		switch e.Type {
		case EventIn:
			result[e.Component] = ComponentActive
		case EventOut:
			if _, ok := result[e.Component]; !ok {
				result[e.Component] = ComponentSource
			}
		case EventAck:
			if _, ok := result[e.RemoteComponent]; !ok {
				result[e.RemoteComponent] = ComponentPassive
			}
		case EventUnknown:
			// not a classification signal
		}
	}
	return result
}

// Replicas collects the distinct replica ids observed for each component
// that logs its own events.
func Replicas(events []Event) map[string]map[string]struct{} {
	result := make(map[string]map[string]struct{})
	for _, e := range events {
		ids, ok := result[e.Component]
		if !ok {
			ids = make(map[string]struct{})
			result[e.Component] = ids
		}
		ids[e.Replica] = struct{}{}
	}
	return result
}
