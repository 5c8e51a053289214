package app

import (
	"encoding/json"
	"strings"
	"testing"
)

const sampleKubevela = `apiVersion: core.oam.dev/v1beta1
kind: Application
metadata:
  name: demo
spec:
  components:
    - name: frontend
      type: webservice
      properties:
        cpu: "0.5"
        memory: 512Mi
      traits:
        - type: scaler
          properties:
            replicas: 2
    - name: worker
      type: webservice
      properties:
        cpu: "2"
        memory: 2Gi
    - name: wiring
      type: connector
      properties:
        target: frontend
`

func sampleMessage(t *testing.T) []byte {
	t.Helper()
	msg := map[string]any{
		"uuid":    "app-1234",
		"title":   "Demo App",
		"content": sampleKubevela,
		"variables": []map[string]any{
			{
				"key":     "spec_components_0_cpu",
				"path":    "/spec/components/0/properties/cpu",
				"meaning": "cpu",
			},
			{
				"key":     "spec_components_1_memory",
				"path":    "/spec/components/1/properties/memory",
				"meaning": "memory",
			},
			{
				"key":     "app_price",
				"path":    "",
				"meaning": "price",
			},
		},
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestFromAppMessage(t *testing.T) {
	a, err := FromAppMessage(sampleMessage(t))
	if err != nil {
		t.Fatalf("FromAppMessage() error = %v", err)
	}
	if a.UUID != "app-1234" || a.Name != "Demo App" {
		t.Errorf("uuid = %q, name = %q", a.UUID, a.Name)
	}
	if len(a.variables) != 3 {
		t.Errorf("variables = %d, want 3", len(a.variables))
	}
}

func TestFromAppMessage_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "hello"},
		{"missing uuid", `{"title":"x","content":"kind: Application"}`},
		{"missing content", `{"uuid":"u","title":"x"}`},
		{"bad yaml content", `{"uuid":"u","content":"{invalid: [yaml"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromAppMessage([]byte(tt.raw)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRewriteWithSolution(t *testing.T) {
	a, err := FromAppMessage(sampleMessage(t))
	if err != nil {
		t.Fatalf("FromAppMessage() error = %v", err)
	}

	rewritten := a.RewriteWithSolution(map[string]any{
		"spec_components_0_cpu":    1.5,
		"spec_components_1_memory": 4096.0,
		"app_price":                12.5, // empty path, must be skipped
		"some_ampl_only_variable":  7.0,  // unknown key, must be skipped
	})

	components := rewritten["spec"].(map[string]any)["components"].([]any)
	frontend := components[0].(map[string]any)["properties"].(map[string]any)
	if frontend["cpu"] != 1.5 {
		t.Errorf("frontend cpu = %v, want 1.5", frontend["cpu"])
	}
	worker := components[1].(map[string]any)["properties"].(map[string]any)
	if worker["memory"] != "4096Mi" {
		t.Errorf("worker memory = %v, want 4096Mi", worker["memory"])
	}

	// The original definition stays untouched.
	origFrontend := a.Kubevela()["spec"].(map[string]any)["components"].([]any)[0].(map[string]any)
	if origFrontend["properties"].(map[string]any)["cpu"] != "0.5" {
		t.Error("rewrite mutated the original kubevela definition")
	}
}

// Memory values at or below 512 are assumed to be gigabytes.
func TestRewriteWithSolution_MemoryUnitHeuristic(t *testing.T) {
	a, err := FromAppMessage(sampleMessage(t))
	if err != nil {
		t.Fatalf("FromAppMessage() error = %v", err)
	}
	rewritten := a.RewriteWithSolution(map[string]any{
		"spec_components_1_memory": 4.0,
	})
	components := rewritten["spec"].(map[string]any)["components"].([]any)
	worker := components[1].(map[string]any)["properties"].(map[string]any)
	if worker["memory"] != "4Gi" {
		t.Errorf("worker memory = %v, want 4Gi", worker["memory"])
	}
}

func TestComponentRequirements(t *testing.T) {
	a, err := FromAppMessage(sampleMessage(t))
	if err != nil {
		t.Fatalf("FromAppMessage() error = %v", err)
	}
	reqs := ComponentRequirements(a.Kubevela())
	if len(reqs) != 2 {
		t.Fatalf("len = %d, want 2 (wiring component has no resources)", len(reqs))
	}
	want := []Requirement{
		{Name: "frontend", Cores: 0.5, Memory: 512, Replicas: 2},
		{Name: "worker", Cores: 2, Memory: 2048, Replicas: 1},
	}
	for i := range want {
		if reqs[i] != want[i] {
			t.Errorf("reqs[%d] = %+v, want %+v", i, reqs[i], want[i])
		}
	}
}

func TestMarshalKubevela_RoundTrips(t *testing.T) {
	a, err := FromAppMessage(sampleMessage(t))
	if err != nil {
		t.Fatalf("FromAppMessage() error = %v", err)
	}
	out, err := MarshalKubevela(a.Kubevela())
	if err != nil {
		t.Fatalf("MarshalKubevela() error = %v", err)
	}
	if !strings.Contains(string(out), "frontend") {
		t.Errorf("serialized kubevela missing component name:\n%s", out)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("missing"); ok {
		t.Error("Get() on empty registry reported a hit")
	}
	a, err := FromAppMessage(sampleMessage(t))
	if err != nil {
		t.Fatal(err)
	}
	r.Put(a)
	got, ok := r.Get("app-1234")
	if !ok || got.Name != "Demo App" {
		t.Errorf("Get() = %+v, %v", got, ok)
	}
	r.Put(a) // redeploy replaces
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}
