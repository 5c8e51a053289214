package trace

import (
	"strings"
	"testing"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		wantOK bool
		checks func(t *testing.T, e Event)
	}{
		{
			name:   "well-formed event",
			line:   `{"CompName":"worker","ReplicaID":"w-1","RemoteCompName":"gateway","EventType":"in","ActivityID":"a1","EventTime":100,"PayloadSize":42}`,
			wantOK: true,
			checks: func(t *testing.T, e Event) {
				if e.Component != "worker" {
					t.Errorf("expected Component=worker, got %s", e.Component)
				}
				if e.Type != EventIn {
					t.Errorf("expected Type=in, got %s", e.Type)
				}
				if e.EventTime != 100 || e.PayloadSize != 42 {
					t.Errorf("expected EventTime=100 PayloadSize=42, got %d/%d", e.EventTime, e.PayloadSize)
				}
			},
		},
		{
			name:   "unrecognized event type maps to unknown",
			line:   `{"CompName":"c","ReplicaID":"","RemoteCompName":"","EventType":"IN","ActivityID":"a","EventTime":1,"PayloadSize":1}`,
			wantOK: true,
			checks: func(t *testing.T, e Event) {
				if e.Type != EventUnknown {
					t.Errorf("expected unknown type for uppercase IN, got %s", e.Type)
				}
			},
		},
		{
			name:   "integral float accepted",
			line:   `{"CompName":"c","ReplicaID":"r","RemoteCompName":"","EventType":"out","ActivityID":"a","EventTime":100.0,"PayloadSize":5}`,
			wantOK: true,
			checks: func(t *testing.T, e Event) {
				if e.EventTime != 100 {
					t.Errorf("expected EventTime=100, got %d", e.EventTime)
				}
			},
		},
		{
			name:   "negative values pass the parser unchanged",
			line:   `{"CompName":"c","ReplicaID":"r","RemoteCompName":"","EventType":"out","ActivityID":"a","EventTime":-5,"PayloadSize":-5}`,
			wantOK: true,
			checks: func(t *testing.T, e Event) {
				// clamping happens at store write time, not here
				if e.EventTime != -5 || e.PayloadSize != -5 {
					t.Errorf("expected raw -5 values, got %d/%d", e.EventTime, e.PayloadSize)
				}
			},
		},
		{
			name: "not json",
			line: "2024-01-01 12:00:00 INFO starting up",
		},
		{
			name: "empty line",
			line: "",
		},
		{
			name: "missing required field",
			line: `{"CompName":"c","ReplicaID":"r","RemoteCompName":"","EventType":"in","ActivityID":"a","EventTime":1}`,
		},
		{
			name: "non-numeric event time",
			line: `{"CompName":"c","ReplicaID":"r","RemoteCompName":"","EventType":"in","ActivityID":"a","EventTime":"soon","PayloadSize":1}`,
		},
		{
			name: "fractional payload size",
			line: `{"CompName":"c","ReplicaID":"r","RemoteCompName":"","EventType":"in","ActivityID":"a","EventTime":1,"PayloadSize":1.5}`,
		},
		{
			name:   "null replica id still counts as present",
			line:   `{"CompName":"c","ReplicaID":null,"RemoteCompName":"","EventType":"in","ActivityID":"a","EventTime":1,"PayloadSize":1}`,
			wantOK: true,
			checks: func(t *testing.T, e Event) {
				if e.Replica != "" {
					t.Errorf("expected empty replica, got %q", e.Replica)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := ParseLine(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("ParseLine() ok = %v, want %v", ok, tt.wantOK)
			}
			if tt.checks != nil {
				tt.checks(t, e)
			}
		})
	}
}

func TestReadLog_SkipsNoise(t *testing.T) {
	input := strings.Join([]string{
		`{"CompName":"a","ReplicaID":"1","RemoteCompName":"b","EventType":"out","ActivityID":"x","EventTime":10,"PayloadSize":1}`,
		`random text from another logger`,
		`{"valid":"json","but":"not a trace event"}`,
		`{"CompName":"b","ReplicaID":"1","RemoteCompName":"a","EventType":"in","ActivityID":"x","EventTime":20,"PayloadSize":1}`,
		``,
	}, "\n")

	events, err := ReadLog(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadLog() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Component != "a" || events[1].Component != "b" {
		t.Errorf("events out of order: %+v", events)
	}
}

func TestReadLog_BOM(t *testing.T) {
	input := "\ufeff" + `{"CompName":"a","ReplicaID":"1","RemoteCompName":"b","EventType":"out","ActivityID":"x","EventTime":10,"PayloadSize":1}`
	events, err := ReadLog(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadLog() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected BOM-prefixed line to parse, got %d events", len(events))
	}
}
