package tools

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func newTestRegistry() *Registry {
	r := NewRegistry()
	for _, name := range []string{"gamma", "alpha", "beta"} {
		result := name + "-result"
		r.Register(&Tool{
			Name:        name,
			Description: "Tool " + name,
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				return result, nil
			},
		})
	}
	return r
}

func TestNamesAndListSorted(t *testing.T) {
	r := newTestRegistry()

	want := []string{"alpha", "beta", "gamma"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}

	list := r.List()
	for i, entry := range list {
		fn := entry["function"].(map[string]any)
		if fn["name"] != want[i] {
			t.Errorf("List()[%d] = %v, want %s", i, fn["name"], want[i])
		}
		if fn["parameters"] == nil {
			t.Errorf("List()[%d] has nil parameters", i)
		}
	}
}

func TestExecute_Unavailable(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Execute(context.Background(), "delta", nil)
	var unavailable *ErrToolUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("err = %v, want *ErrToolUnavailable", err)
	}
	if unavailable.ToolName != "delta" {
		t.Errorf("ToolName = %q", unavailable.ToolName)
	}
}

func TestExecute_HandlerErrorPassesThrough(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	r.Register(&Tool{Name: "fail", Handler: func(context.Context, map[string]any) (string, error) {
		return "", boom
	}})

	if _, err := r.Execute(context.Background(), "fail", nil); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestFilteredCopy(t *testing.T) {
	r := newTestRegistry()

	tests := []struct {
		name    string
		include []string
		want    []string
	}{
		{"nil copies everything", nil, []string{"alpha", "beta", "gamma"}},
		{"subset", []string{"alpha", "gamma"}, []string{"alpha", "gamma"}},
		{"empty list", []string{}, []string{}},
		{"unknown names skipped", []string{"alpha", "nonexistent"}, []string{"alpha"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filtered := r.FilteredCopy(tt.include)
			if got := filtered.Names(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Names() = %v, want %v", got, tt.want)
			}
			for _, name := range tt.want {
				got, err := filtered.Execute(context.Background(), name, nil)
				if err != nil || got != name+"-result" {
					t.Errorf("Execute(%s) = %q, %v", name, got, err)
				}
			}
		})
	}
}

func TestFilteredCopy_DoesNotMutateSource(t *testing.T) {
	r := newTestRegistry()
	filtered := r.FilteredCopy([]string{"alpha"})
	filtered.Register(&Tool{Name: "new_tool"})

	if len(r.Names()) != 3 {
		t.Error("FilteredCopy mutated the source registry")
	}
}

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	if SessionIDFromContext(ctx) != "" || AgentIDFromContext(ctx) != "" {
		t.Error("unset ids should be empty")
	}
	ctx = WithAgentID(WithSessionID(ctx, "s1"), "planner")
	if got := SessionIDFromContext(ctx); got != "s1" {
		t.Errorf("SessionIDFromContext = %q", got)
	}
	if got := AgentIDFromContext(ctx); got != "planner" {
		t.Errorf("AgentIDFromContext = %q", got)
	}
}
