package domain

import "testing"

func TestEntry_Supersedes(t *testing.T) {
	tests := []struct {
		name  string
		e     Entry
		other Entry
		want  bool
	}{
		{
			name:  "higher version wins",
			e:     Entry{Key: "k", Version: 2, Origin: "node-1"},
			other: Entry{Key: "k", Version: 1, Origin: "node-9"},
			want:  true,
		},
		{
			name:  "lower version loses",
			e:     Entry{Key: "k", Version: 1, Origin: "node-9"},
			other: Entry{Key: "k", Version: 2, Origin: "node-1"},
			want:  false,
		},
		{
			name:  "tie broken by greater origin",
			e:     Entry{Key: "k", Version: 3, Origin: "node-2"},
			other: Entry{Key: "k", Version: 3, Origin: "node-1"},
			want:  true,
		},
		{
			name:  "tie with lesser origin loses",
			e:     Entry{Key: "k", Version: 3, Origin: "node-1"},
			other: Entry{Key: "k", Version: 3, Origin: "node-2"},
			want:  false,
		},
		{
			name:  "identical entry does not supersede itself",
			e:     Entry{Key: "k", Version: 3, Origin: "node-1"},
			other: Entry{Key: "k", Version: 3, Origin: "node-1"},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.e.Supersedes(tt.other); got != tt.want {
				t.Errorf("Supersedes() = %v, want %v", got, tt.want)
			}
		})
	}
}
