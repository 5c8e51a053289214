package trace

import "sort"

// Durations pairs start and end events for a single component/replica
// and returns one processing time per matched end event.
//
// The pairing rule depends on the component's role: Active components
// start an activity with IN and end it with OUT; Passive components
// start with the partner's OUT and end with ACK. Source components have
// no recorded start event type and produce no durations.
//
// Events are sorted ascending by EventTime (stable, so equal timestamps
// keep input order) and scanned once. A start event overwrites the
// recorded start time for its activity id: when two starts occur before
// a matching end, the earlier start is lost. An end event with a
// recorded start emits endTime-startTime and keeps the start, so a
// second end for the same activity id yields another duration measured
// from the same start; each outgoing event closes its own activity
// instance. An end with no recorded start is dropped. Under clock skew
// an emitted duration can be negative; it is not filtered here.
func Durations(ctype ComponentType, events []Event) []int64 {
	var startType, endType EventType
	switch ctype {
	case ComponentActive:
		startType, endType = EventIn, EventOut
	case ComponentPassive:
		startType, endType = EventOut, EventAck
	case ComponentSource, ComponentUnknown:
		return nil
	}

	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EventTime < sorted[j].EventTime
	})

	lastStart := make(map[string]int64)
	var result []int64
	for _, e := range sorted {
		switch e.Type {
		case startType:
			lastStart[e.ActivityID] = e.EventTime
		case endType:
			if start, ok := lastStart[e.ActivityID]; ok {
				result = append(result, e.EventTime-start)
			}
		}
	}
	return result
}

// ProcessingTimes runs the correlation for every non-Source component.
// Active components are partitioned per replica; Passive components have
// no replica concept, their durations are recorded under the empty
// replica id. The result maps component -> replica id -> durations.
func ProcessingTimes(types map[string]ComponentType, replicas map[string]map[string]struct{}, events []Event) map[string]map[string][]int64 {
	result := make(map[string]map[string][]int64)
	for name, ctype := range types {
		switch ctype {
		case ComponentActive:
			ids := replicas[name]
			if len(ids) == 0 {
				ids = map[string]struct{}{"": {}}
			}
			for replica := range ids {
				var own []Event
				for _, e := range events {
					if e.Component == name && e.Replica == replica {
						own = append(own, e)
					}
				}
				if result[name] == nil {
					result[name] = make(map[string][]int64)
				}
				result[name][replica] = Durations(ctype, own)
			}
		case ComponentPassive:
			var observed []Event
			for _, e := range events {
				if e.RemoteComponent == name {
					observed = append(observed, e)
				}
			}
			if result[name] == nil {
				result[name] = make(map[string][]int64)
			}
			result[name][""] = Durations(ctype, observed)
		case ComponentSource, ComponentUnknown:
			// no start event type recorded, nothing to correlate
		}
	}
	return result
}
