// Package sim replays a recorded trace against a deployment scenario
// and calibration factors, producing a synthetic trace of the modeled
// deployment. The output uses the same JSONL record format the ingest
// parser consumes, so simulated runs can be analyzed and re-imported
// with the regular tooling.
package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/twinfra/tracetwin/internal/calibration"
	"github.com/twinfra/tracetwin/internal/scenario"
	"github.com/twinfra/tracetwin/internal/store"
	"github.com/twinfra/tracetwin/internal/trace"
)

// record mirrors the trace log wire format.
type record struct {
	CompName       string `json:"CompName"`
	ReplicaID      string `json:"ReplicaID"`
	RemoteCompName string `json:"RemoteCompName"`
	EventType      string `json:"EventType"`
	ActivityID     string `json:"ActivityID"`
	EventTime      int64  `json:"EventTime"`
	PayloadSize    int64  `json:"PayloadSize"`
}

// Run executes one simulation and returns the model output. The three
// database files are staged into a private temporary directory first,
// so a simulation never sees writes from a concurrently running server.
// Missing or unreadable database files fail the run up front.
func Run(ctx context.Context, traceDB, scenarioDB, calibrationDB string) (string, error) {
	for _, path := range []string{traceDB, scenarioDB, calibrationDB} {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("database %s does not exist or cannot be read: %w", path, err)
		}
		f.Close()
	}

	tempDir, err := os.MkdirTemp("", "simulation-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	staged := make(map[string]string, 3)
	for _, path := range []string{traceDB, scenarioDB, calibrationDB} {
		dst := filepath.Join(tempDir, filepath.Base(path))
		if err := copyFile(path, dst); err != nil {
			return "", fmt.Errorf("failed to stage %s: %w", path, err)
		}
		staged[path] = dst
	}
	log.Debug().Str("dir", tempDir).Msg("Staged databases for simulation")

	events, err := loadEvents(ctx, staged[traceDB])
	if err != nil {
		return "", err
	}
	components, err := loadScenario(ctx, staged[scenarioDB])
	if err != nil {
		return "", err
	}
	factors, err := loadFactors(ctx, staged[calibrationDB])
	if err != nil {
		return "", err
	}

	var out strings.Builder
	emitted, err := replay(&out, events, components, factors)
	if err != nil {
		return "", err
	}
	log.Info().
		Int("input_events", len(events)).
		Int("output_events", emitted).
		Msg("Simulation finished")
	return out.String(), nil
}

// replay walks the recorded events in time order. Each request arrival
// (an IN event) is re-emitted as-is, followed by a synthetic OUT event
// whose timing follows the cost model: processing time is
// constant_cost + variable_cost * payload_size, divided across the
// component's replicas in the scenario. Components absent from the
// calibration run at zero cost; components absent from the scenario run
// single-replica.
func replay(w io.Writer, events []trace.Event, components []scenario.Component, factors []calibration.Factor) (int, error) {
	replicas := make(map[string]int, len(components))
	for _, c := range components {
		replicas[c.Name] = c.Replicas
	}
	costs := make(map[string]calibration.Factor, len(factors))
	for _, f := range factors {
		costs[f.Component] = f
	}

	enc := json.NewEncoder(w)
	emitted := 0
	for _, e := range events {
		if e.Type != trace.EventIn {
			continue
		}
		n := replicas[e.Component]
		if n < 1 {
			n = 1
		}
		f := costs[e.Component]
		duration := (f.ConstantCost + f.VariableCost*float64(e.PayloadSize)) / float64(n)

		in := record{
			CompName:       e.Component,
			ReplicaID:      e.Replica,
			RemoteCompName: e.RemoteComponent,
			EventType:      trace.EventIn.String(),
			ActivityID:     e.ActivityID,
			EventTime:      e.EventTime,
			PayloadSize:    e.PayloadSize,
		}
		out := in
		out.EventType = trace.EventOut.String()
		out.EventTime = e.EventTime + int64(math.Round(duration))

		if err := enc.Encode(in); err != nil {
			return emitted, fmt.Errorf("failed to encode simulated event: %w", err)
		}
		if err := enc.Encode(out); err != nil {
			return emitted, fmt.Errorf("failed to encode simulated event: %w", err)
		}
		emitted += 2
	}
	return emitted, nil
}

func loadEvents(ctx context.Context, path string) ([]trace.Event, error) {
	s, err := store.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	events, err := s.Events(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load trace: %w", err)
	}
	return events, nil
}

func loadScenario(ctx context.Context, path string) ([]scenario.Component, error) {
	s, err := scenario.Open(path)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	components, err := s.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load scenario: %w", err)
	}
	return components, nil
}

func loadFactors(ctx context.Context, path string) ([]calibration.Factor, error) {
	s, err := calibration.Open(path)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	factors, err := s.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load calibration: %w", err)
	}
	return factors, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
