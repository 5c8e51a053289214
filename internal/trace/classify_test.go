package trace

import (
	"math/rand"
	"reflect"
	"testing"
)

func ev(comp, replica, remote string, typ EventType, activity string, time int64) Event {
	return Event{
		Component:       comp,
		Replica:         replica,
		RemoteComponent: remote,
		Type:            typ,
		ActivityID:      activity,
		EventTime:       time,
		PayloadSize:     1,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		events []Event
		want   map[string]ComponentType
	}{
		{
			name: "source active passive",
			events: []Event{
				ev("load", "1", "frontend", EventOut, "a1", 10),
				ev("frontend", "1", "load", EventIn, "a1", 20),
				ev("frontend", "1", "db", EventOut, "a1", 30),
				ev("frontend", "1", "db", EventAck, "a1", 40),
			},
			want: map[string]ComponentType{
				"load":     ComponentSource,
				"frontend": ComponentActive,
				"db":       ComponentPassive,
			},
		},
		{
			name: "in overrides earlier out",
			events: []Event{
				ev("c", "1", "", EventOut, "a", 10),
				ev("c", "1", "", EventIn, "a", 20),
			},
			want: map[string]ComponentType{"c": ComponentActive},
		},
		{
			name: "in overrides later out too",
			events: []Event{
				ev("c", "1", "", EventIn, "a", 10),
				ev("c", "1", "", EventOut, "a", 20),
			},
			want: map[string]ComponentType{"c": ComponentActive},
		},
		{
			name: "passive reclassified active when it logs its own in",
			events: []Event{
				ev("a", "1", "p", EventAck, "x", 10),
				ev("p", "1", "a", EventIn, "x", 20),
			},
			// a itself stays unclassified: an ack only names the remote
			want: map[string]ComponentType{"p": ComponentActive},
		},
		{
			name: "unknown events classify nothing",
			events: []Event{
				ev("c", "1", "d", EventUnknown, "a", 10),
			},
			want: map[string]ComponentType{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.events)
			if len(tt.want) == 0 {
				tt.want = map[string]ComponentType{}
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

// The classifier's priority rule looks at the whole event set, so the
// result must not depend on the order events arrive in.
func TestClassify_OrderIndependent(t *testing.T) {
	events := []Event{
		ev("load", "1", "frontend", EventOut, "a1", 10),
		ev("frontend", "1", "load", EventIn, "a1", 20),
		ev("frontend", "2", "db", EventOut, "a1", 30),
		ev("frontend", "2", "db", EventAck, "a1", 40),
		ev("frontend", "1", "cache", EventAck, "a2", 50),
		ev("mixed", "1", "x", EventOut, "a3", 60),
		ev("mixed", "1", "x", EventIn, "a3", 70),
	}
	want := Classify(events)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		shuffled := make([]Event, len(events))
		copy(shuffled, events)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		got := Classify(shuffled)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("classification depends on order: %v vs %v", got, want)
		}
	}
}

func TestClassify_AckOnAlreadyClassifiedRemote(t *testing.T) {
	events := []Event{
		ev("p", "1", "a", EventIn, "x", 10),
		ev("a", "1", "p", EventAck, "x", 20),
	}
	got := Classify(events)
	if got["p"] != ComponentActive {
		t.Errorf("expected p to stay Active despite ack, got %s", got["p"])
	}
}

func TestReplicas(t *testing.T) {
	events := []Event{
		ev("c", "1", "", EventIn, "a", 10),
		ev("c", "2", "", EventIn, "b", 20),
		ev("c", "1", "", EventOut, "a", 30),
		ev("d", "", "", EventOut, "a", 40),
	}
	got := Replicas(events)
	if len(got["c"]) != 2 {
		t.Errorf("expected 2 replicas for c, got %v", got["c"])
	}
	if _, ok := got["d"][""]; !ok {
		t.Errorf("expected empty-string replica recorded for d, got %v", got["d"])
	}
}
