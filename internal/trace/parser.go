package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
)

// The seven fields a log line must carry to count as a trace event.
var requiredFields = []string{
	"CompName", "ReplicaID", "RemoteCompName",
	"EventType", "ActivityID", "EventTime", "PayloadSize",
}

// ParseLine parses one line of log output into an Event. The second
// return value is false when the line is not a trace event: not valid
// JSON, missing a required field, or EventTime/PayloadSize not
// convertible to an integer. Trace logs legitimately interleave with
// unrelated log lines from other writers, so a rejected line is not an
// error and must not abort the surrounding read.
func ParseLine(line string) (Event, bool) {
	// First line of a file may carry a UTF-8 BOM.
	line = strings.TrimPrefix(line, "\ufeff")

	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return Event{}, false
	}
	for _, key := range requiredFields {
		if _, ok := data[key]; !ok {
			return Event{}, false
		}
	}

	eventTime, ok := asInt64(data["EventTime"])
	if !ok {
		return Event{}, false
	}
	payloadSize, ok := asInt64(data["PayloadSize"])
	if !ok {
		return Event{}, false
	}

	return Event{
		Component:       asString(data["CompName"]),
		Replica:         asString(data["ReplicaID"]),
		RemoteComponent: asString(data["RemoteCompName"]),
		Type:            EventTypeFromString(asString(data["EventType"])),
		ActivityID:      asString(data["ActivityID"]),
		EventTime:       eventTime,
		PayloadSize:     payloadSize,
	}, true
}

// ReadLog collects all well-formed trace events from a stream of log
// lines, skipping everything else.
func ReadLog(r io.Reader) ([]Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var events []Event
	for scanner.Scan() {
		if e, ok := ParseLine(scanner.Text()); ok {
			events = append(events, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading trace log: %w", err)
	}
	return events, nil
}

// asInt64 converts a decoded JSON value to int64. Integral floats are
// accepted (a writer emitting 100.0 still means 100); everything else,
// including numeric strings, is rejected.
func asInt64(v any) (int64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// asString renders a decoded JSON value as text the way the original
// trace writers do: strings verbatim, anything else via its literal.
func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}
