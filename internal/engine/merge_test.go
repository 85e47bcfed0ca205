package engine

import (
	"reflect"
	"testing"
)

func TestAnsweredCount(t *testing.T) {
	tests := []struct {
		name    string
		answers map[string]string
		want    int
	}{
		{"nil map", nil, 0},
		{"empty map", map[string]string{}, 0},
		{"all answered", map[string]string{"a": "1", "b": "2"}, 2},
		{"empty values ignored", map[string]string{"a": "1", "b": "", "c": "3"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AnsweredCount(tt.answers); got != tt.want {
				t.Errorf("AnsweredCount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name   string
		remote map[string]string
		draft  map[string]string
		want   map[string]string
	}{
		{
			name:   "remote wins with more answers",
			remote: map[string]string{"q1": "a", "q2": "b"},
			draft:  map[string]string{"q1": "x"},
			want:   map[string]string{"q1": "a", "q2": "b"},
		},
		{
			name:   "draft wins with more answers",
			remote: map[string]string{"q1": "a"},
			draft:  map[string]string{"q1": "x", "q2": "y"},
			want:   map[string]string{"q1": "x", "q2": "y"},
		},
		{
			name:   "tie goes to draft",
			remote: map[string]string{"q1": "a", "q2": "b"},
			draft:  map[string]string{"q1": "x", "q2": "y"},
			want:   map[string]string{"q1": "x", "q2": "y"},
		},
		{
			name:   "empty values do not count toward the comparison",
			remote: map[string]string{"q1": "a", "q2": "b"},
			draft:  map[string]string{"q1": "x", "q2": "", "q3": ""},
			want:   map[string]string{"q1": "a", "q2": "b"},
		},
		{
			name:   "empty values stripped from the winner",
			remote: nil,
			draft:  map[string]string{"q1": "x", "q2": ""},
			want:   map[string]string{"q1": "x"},
		},
		{
			name:   "both empty",
			remote: nil,
			draft:  nil,
			want:   map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.remote, tt.draft)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Merge() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergeReturnsCopy(t *testing.T) {
	draft := map[string]string{"q1": "x"}
	got := Merge(nil, draft)
	got["q2"] = "mutated"
	if _, ok := draft["q2"]; ok {
		t.Error("Merge() returned the input map instead of a copy")
	}
}
