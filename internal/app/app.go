// Package app holds per-application state parsed from app creation
// messages. Solver messages refer to locations inside the application's
// KubeVela definition, so the original definition and its variable
// mappings have to stay around for the lifetime of the application.
package app

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Variable maps a solver variable key to a location in the KubeVela
// document and the meaning of the value stored there.
type Variable struct {
	Key     string
	Path    string // JSON-pointer style path into the KubeVela document
	Meaning string // e.g. "cpu", "memory", "replicas", "price"
}

// App is the state kept for one application.
type App struct {
	UUID      string
	Name      string
	kubevela  map[string]any
	variables map[string]Variable
}

type appMessage struct {
	UUID      string `json:"uuid"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Variables []struct {
		Key     string `json:"key"`
		Path    string `json:"path"`
		Meaning string `json:"meaning"`
	} `json:"variables"`
}

// FromAppMessage parses an app creation message: the application uuid
// and title, the KubeVela definition embedded as a YAML string under
// "content", and the variable mappings under "variables".
func FromAppMessage(raw []byte) (*App, error) {
	var msg appMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse app creation message: %w", err)
	}
	if msg.UUID == "" {
		return nil, fmt.Errorf("app creation message has no uuid")
	}
	if msg.Content == "" {
		return nil, fmt.Errorf("app creation message has no kubevela content")
	}

	var kubevela map[string]any
	if err := yaml.Unmarshal([]byte(msg.Content), &kubevela); err != nil {
		return nil, fmt.Errorf("failed to parse kubevela definition: %w", err)
	}

	a := &App{
		UUID:      msg.UUID,
		Name:      msg.Title,
		kubevela:  kubevela,
		variables: make(map[string]Variable, len(msg.Variables)),
	}
	for _, v := range msg.Variables {
		a.variables[v.Key] = Variable{Key: v.Key, Path: v.Path, Meaning: v.Meaning}
	}
	return a, nil
}

// Kubevela returns the application's KubeVela definition as parsed from
// the app creation message.
func (a *App) Kubevela() map[string]any {
	return a.kubevela
}

// RewriteWithSolution returns a copy of the KubeVela definition with
// variable locations replaced by solver-supplied values. Keys without a
// known variable mapping are ignored: the solver sends every AMPL
// variable, not only those bound to KubeVela locations. Variables with
// an empty path (e.g. the deployment price) are skipped as well.
func (a *App) RewriteWithSolution(values map[string]any) map[string]any {
	fresh := deepCopy(a.kubevela).(map[string]any)
	for key, value := range values {
		variable, ok := a.variables[key]
		if !ok {
			continue
		}
		if variable.Path == "" {
			continue
		}
		parent, property, err := resolveParent(fresh, variable.Path)
		if err != nil {
			log.Warn().
				Str("key", key).
				Str("path", variable.Path).
				Msg("Location not found in KubeVela, cannot replace value")
			continue
		}

		// Some solvers return floats for integer-valued variables.
		if isIntegerMeaning(variable.Meaning) {
			if f, ok := value.(float64); ok {
				value = int64(f)
			}
		}
		if variable.Meaning == "memory" {
			// KubeVela wants memory with a unit. Deployments are
			// specified in GB or MB inconsistently, so guess the unit
			// from the magnitude.
			text := valueText(value)
			if !strings.HasSuffix(text, "Mi") && !strings.HasSuffix(text, "Gi") {
				if valueNumber(value) <= 512 {
					value = text + "Gi"
				} else {
					value = text + "Mi"
				}
			}
		}
		parent[property] = value
	}
	return fresh
}

// MarshalKubevela serializes a KubeVela definition back to YAML.
func MarshalKubevela(kubevela map[string]any) ([]byte, error) {
	return yaml.Marshal(kubevela)
}

// Requirement describes the resources one KubeVela component asks for.
type Requirement struct {
	Name     string
	Cores    float64
	Memory   float64 // megabytes
	Replicas int
}

// ComponentRequirements extracts per-component resource requirements
// from a KubeVela definition. Components without cpu or memory
// properties carry no deployable workload and are skipped. The replica
// count comes from the scaler trait, defaulting to 1.
func ComponentRequirements(kubevela map[string]any) []Requirement {
	spec, _ := kubevela["spec"].(map[string]any)
	components, _ := spec["components"].([]any)

	var reqs []Requirement
	for _, c := range components {
		comp, ok := c.(map[string]any)
		if !ok {
			continue
		}
		name, _ := comp["name"].(string)
		props, _ := comp["properties"].(map[string]any)
		cpuVal, hasCPU := props["cpu"]
		memVal, hasMem := props["memory"]
		if !hasCPU && !hasMem {
			continue
		}
		reqs = append(reqs, Requirement{
			Name:     name,
			Cores:    parseCores(cpuVal),
			Memory:   parseMemory(memVal),
			Replicas: replicaCount(comp),
		})
	}
	return reqs
}

func replicaCount(comp map[string]any) int {
	traits, _ := comp["traits"].([]any)
	for _, t := range traits {
		trait, ok := t.(map[string]any)
		if !ok || trait["type"] != "scaler" {
			continue
		}
		props, _ := trait["properties"].(map[string]any)
		switch r := props["replicas"].(type) {
		case int:
			return r
		case float64:
			return int(r)
		}
	}
	return 1
}

// parseCores accepts plain numbers, decimal strings, and Kubernetes
// millicore notation ("500m").
func parseCores(v any) float64 {
	switch c := v.(type) {
	case int:
		return float64(c)
	case float64:
		return c
	case string:
		if milli, ok := strings.CutSuffix(c, "m"); ok {
			if f, err := strconv.ParseFloat(milli, 64); err == nil {
				return f / 1000
			}
		}
		if f, err := strconv.ParseFloat(c, 64); err == nil {
			return f
		}
	}
	return 0
}

// parseMemory returns megabytes from plain numbers or Mi/Gi strings.
func parseMemory(v any) float64 {
	switch m := v.(type) {
	case int:
		return float64(m)
	case float64:
		return m
	case string:
		if mi, ok := strings.CutSuffix(m, "Mi"); ok {
			if f, err := strconv.ParseFloat(mi, 64); err == nil {
				return f
			}
		}
		if gi, ok := strings.CutSuffix(m, "Gi"); ok {
			if f, err := strconv.ParseFloat(gi, 64); err == nil {
				return f * 1024
			}
		}
		if f, err := strconv.ParseFloat(m, 64); err == nil {
			return f
		}
	}
	return 0
}

func isIntegerMeaning(meaning string) bool {
	switch meaning {
	case "memory", "replicas":
		return true
	default:
		return false
	}
}

func valueText(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case int64:
		return strconv.FormatInt(n, 10)
	case int:
		return strconv.Itoa(n)
	case float64:
		return strconv.FormatFloat(n, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func valueNumber(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}

// resolveParent walks a JSON-pointer style path and returns the map
// holding the final property. Array indices along the way are numeric
// path segments.
func resolveParent(root map[string]any, path string) (map[string]any, string, error) {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return nil, "", fmt.Errorf("empty path")
	}
	for i := range segments {
		segments[i] = strings.ReplaceAll(strings.ReplaceAll(segments[i], "~1", "/"), "~0", "~")
	}

	var current any = root
	for _, seg := range segments[:len(segments)-1] {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, "", fmt.Errorf("path segment %q not found", seg)
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, "", fmt.Errorf("bad array index %q", seg)
			}
			current = node[idx]
		default:
			return nil, "", fmt.Errorf("path segment %q traverses a scalar", seg)
		}
	}

	parent, ok := current.(map[string]any)
	if !ok {
		return nil, "", fmt.Errorf("parent of %q is not an object", path)
	}
	property := segments[len(segments)-1]
	if _, ok := parent[property]; !ok {
		return nil, "", fmt.Errorf("property %q not found", property)
	}
	return parent, property, nil
}

func deepCopy(v any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, val := range node {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, val := range node {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
