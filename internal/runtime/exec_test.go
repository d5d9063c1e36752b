package runtime

import (
	"sort"
	"testing"
)

func TestMergeEnv(t *testing.T) {
	tests := []struct {
		name      string
		base      []string
		overrides []string
		want      []string
	}{
		{
			name:      "override wins over image env",
			base:      []string{"PATH=/usr/bin", "CARGO_TERM_COLOR=always"},
			overrides: []string{"CARGO_TERM_COLOR=never"},
			want:      []string{"CARGO_TERM_COLOR=never", "PATH=/usr/bin"},
		},
		{
			name:      "new key added",
			base:      []string{"PATH=/usr/bin"},
			overrides: []string{"RUSTFLAGS=-C target-cpu=native"},
			want:      []string{"PATH=/usr/bin", "RUSTFLAGS=-C target-cpu=native"},
		},
		{
			name:      "no base env",
			base:      nil,
			overrides: []string{"HOME=/root"},
			want:      []string{"HOME=/root"},
		},
		{
			name:      "no overrides",
			base:      []string{"HOME=/root"},
			overrides: nil,
			want:      []string{"HOME=/root"},
		},
		{
			name: "both empty",
			want: []string{},
		},
		{
			name: "value containing equals",
			base: []string{"RUSTFLAGS=-C opt-level=3"},
			want: []string{"RUSTFLAGS=-C opt-level=3"},
		},
		{
			name:      "entries without equals dropped",
			base:      []string{"BROKEN", "PATH=/usr/bin"},
			overrides: []string{"ALSOBROKEN"},
			want:      []string{"PATH=/usr/bin"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeEnv(tt.base, tt.overrides)
			sort.Strings(got)
			sort.Strings(tt.want)

			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d\ngot:  %v\nwant: %v", len(got), len(tt.want), got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestNextExecID(t *testing.T) {
	seen := map[string]bool{}
	for range 10 {
		id := nextExecID()
		if id == "" {
			t.Fatal("nextExecID returned empty string")
		}
		if seen[id] {
			t.Fatalf("nextExecID returned duplicate: %q", id)
		}
		seen[id] = true
	}
}
