package mapval_test

import (
	"testing"
	"time"

	"github.com/pcharbon70/loom/internal/mapval"
)

func TestString(t *testing.T) {
	m := map[string]any{"a": "  hello ", "b": 42, "c": ""}

	if got := mapval.String(m, "a"); got != "hello" {
		t.Errorf("String(a) = %q, want %q", got, "hello")
	}
	if got := mapval.String(m, "b"); got != "" {
		t.Errorf("String(b) = %q, want empty for non-string", got)
	}
	if got := mapval.String(nil, "a"); got != "" {
		t.Errorf("String(nil map) = %q, want empty", got)
	}
}

func TestFirstString(t *testing.T) {
	m := map[string]any{"detail": "", "message": "boom", "summary": "later"}

	if got := mapval.FirstString(m, "detail", "message", "summary"); got != "boom" {
		t.Errorf("FirstString = %q, want %q", got, "boom")
	}
}

func TestBool(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		want   bool
		wantOK bool
	}{
		{"true bool", true, true, true},
		{"false bool", false, false, true},
		{"true string", "true", true, true},
		{"false string", "False", false, true},
		{"number", 1, false, false},
		{"garbage string", "yes", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := mapval.Bool(map[string]any{"k": tt.value}, "k")
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Bool = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestInt(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		want   int
		wantOK bool
	}{
		{"int", 7, 7, true},
		{"int64", int64(9), 9, true},
		{"json float", float64(123), 123, true},
		{"fractional float", 1.5, 0, false},
		{"numeric string", "42", 42, true},
		{"garbage string", "abc", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := mapval.Int(map[string]any{"k": tt.value}, "k")
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Int = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestStrings(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  int
	}{
		{"single string", "test", 1},
		{"string slice", []string{"a", "b"}, 2},
		{"any slice", []any{"a", 3, "b", "  "}, 2},
		{"empty", []any{}, 0},
		{"non-list", 12, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapval.Strings(map[string]any{"k": tt.value}, "k")
			if len(got) != tt.want {
				t.Errorf("Strings = %v, want %d entries", got, tt.want)
			}
		})
	}
}

func TestTime(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	got, ok := mapval.Time(map[string]any{"at": now}, "at")
	if !ok || !got.Equal(now) {
		t.Errorf("Time(time.Time) = (%v, %v)", got, ok)
	}

	got, ok = mapval.Time(map[string]any{"at": now.Format(time.RFC3339)}, "at")
	if !ok || !got.Equal(now) {
		t.Errorf("Time(RFC3339) = (%v, %v)", got, ok)
	}

	if _, ok = mapval.Time(map[string]any{"at": "not a time"}, "at"); ok {
		t.Error("Time should reject unparseable strings")
	}
}

func TestIsEmpty(t *testing.T) {
	empties := []any{nil, "", "   ", map[string]any{}, []any{}, []string{}}
	for _, v := range empties {
		if !mapval.IsEmpty(v) {
			t.Errorf("IsEmpty(%#v) = false, want true", v)
		}
	}

	nonEmpties := []any{"x", 0, false, map[string]any{"k": 1}, []any{1}}
	for _, v := range nonEmpties {
		if mapval.IsEmpty(v) {
			t.Errorf("IsEmpty(%#v) = true, want false", v)
		}
	}
}
