package scenario

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

const sampleCSV = `Component,Replicas,Cores,Memory
frontend,2,0.5,512
worker,3,2,2048
`

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{
			name:  "valid scenario",
			input: sampleCSV,
			want:  2,
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: true,
		},
		{
			name:    "wrong header",
			input:   "Name,Count,CPU,RAM\nfrontend,2,0.5,512\n",
			wantErr: true,
		},
		{
			name:    "malformed replica count",
			input:   "Component,Replicas,Cores,Memory\nfrontend,two,0.5,512\n",
			wantErr: true,
		},
		{
			name:    "malformed memory",
			input:   "Component,Replicas,Cores,Memory\nfrontend,2,0.5,lots\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCSV(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCSV() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestStore_ReplaceAndList(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "scenario.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	first := []Component{
		{Name: "frontend", Cores: 0.5, Memory: 512, Replicas: 2},
		{Name: "worker", Cores: 2, Memory: 2048, Replicas: 3},
	}
	if err := s.Replace(ctx, first); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	// A second import replaces, never appends.
	second := []Component{{Name: "worker", Cores: 4, Memory: 4096, Replicas: 1}}
	if err := s.Replace(ctx, second); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	got, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0] != second[0] {
		t.Errorf("row = %+v, want %+v", got[0], second[0])
	}
}
