package trace

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Summary accumulates count, min, max and sum over a series of int64
// observations.
type Summary struct {
	Count int64
	Min   int64
	Max   int64
	Sum   int64
}

// Add records one observation.
func (s *Summary) Add(v int64) {
	if s.Count == 0 {
		s.Min, s.Max = v, v
	} else {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	s.Count++
	s.Sum += v
}

// Average returns the mean of the recorded observations, 0 when empty.
func (s Summary) Average() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Sum) / float64(s.Count)
}

func summarize(values []int64) Summary {
	var s Summary
	for _, v := range values {
		s.Add(v)
	}
	return s
}

// ActivitySpans aggregates the event times of every activity in the
// trace. The span of an activity (Max-Min) is its execution time across
// all hops, computed over all events carrying the activity id, not only
// correlated start/end pairs.
func ActivitySpans(events []Event) map[string]Summary {
	spans := make(map[string]Summary)
	for _, e := range events {
		s := spans[e.ActivityID]
		s.Add(e.EventTime)
		spans[e.ActivityID] = s
	}
	return spans
}

// WriteReport renders the full statistics report for one trace. Output
// is a sequence of blocks: overall counts, per-activity execution times,
// component classification, per component/replica duration summaries and
// the raw duration lists. CSV blocks go through encoding/csv so the
// output stays valid even with hostile component or activity names.
func WriteReport(w io.Writer, events []Event) error {
	fmt.Fprintf(w, "Trace events: %d\n\n", len(events))

	spans := ActivitySpans(events)
	var overall Summary
	for _, s := range spans {
		overall.Add(s.Max - s.Min)
	}
	fmt.Fprintf(w, "Activity statistics: count: %d, execution time min: %d, max: %d, average: %s\n",
		overall.Count, overall.Min, overall.Max, formatAverage(overall.Average()))

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"ActivityID", "executionTime"}); err != nil {
		return err
	}
	for _, id := range sortedKeys(spans) {
		s := spans[id]
		if err := cw.Write([]string{id, strconv.FormatInt(s.Max-s.Min, 10)}); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing activity statistics: %w", err)
	}
	fmt.Fprintln(w)

	types := Classify(events)
	replicas := Replicas(events)
	fmt.Fprintln(w, "Component types")
	cw = csv.NewWriter(w)
	if err := cw.Write([]string{"Component", "type", "replica_ids"}); err != nil {
		return err
	}
	for _, name := range sortedKeys(types) {
		if err := cw.Write([]string{name, types[name].String(), formatReplicaSet(replicas[name])}); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing component types: %w", err)
	}
	fmt.Fprintln(w)

	times := ProcessingTimes(types, replicas, events)
	cw = csv.NewWriter(w)
	if err := cw.Write([]string{"Component", "replica_id", "task_count", "min", "max", "average"}); err != nil {
		return err
	}
	for _, component := range sortedKeys(times) {
		perReplica := times[component]
		for _, replica := range sortedKeys(perReplica) {
			s := summarize(perReplica[replica])
			if err := cw.Write([]string{
				component,
				replica,
				strconv.FormatInt(s.Count, 10),
				strconv.FormatInt(s.Min, 10),
				strconv.FormatInt(s.Max, 10),
				formatAverage(s.Average()),
			}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing component statistics: %w", err)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Non-Source replicas: %d\n", len(times))
	fmt.Fprintln(w, "Component,replica_id,times")
	for _, component := range sortedKeys(times) {
		perReplica := times[component]
		for _, replica := range sortedKeys(perReplica) {
			fmt.Fprintf(w, "%s,%s,%v\n", component, replica, perReplica[replica])
		}
	}
	return nil
}

func formatAverage(avg float64) string {
	return strconv.FormatFloat(avg, 'g', -1, 64)
}

// formatReplicaSet renders a replica id set in a stable order.
func formatReplicaSet(ids map[string]struct{}) string {
	names := make([]string, 0, len(ids))
	for id := range ids {
		names = append(names, id)
	}
	sort.Strings(names)
	out := "["
	for i, id := range names {
		if i > 0 {
			out += " "
		}
		out += id
	}
	return out + "]"
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
