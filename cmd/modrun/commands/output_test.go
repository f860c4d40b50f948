package commands

import (
	"errors"
	"testing"

	"github.com/contentkit/modrun/pkg/engine"
)

func TestPlain(t *testing.T) {
	in := map[string]interface{}{
		"title":  "A",
		"render": func() {},
		"items":  []interface{}{int64(1), func() {}},
	}
	out := plain(in).(map[string]interface{})
	if out["render"] != "[function]" {
		t.Errorf("expected functions to be replaced, got %v", out["render"])
	}
	items := out["items"].([]interface{})
	if items[0] != int64(1) || items[1] != "[function]" {
		t.Errorf("unexpected items: %v", items)
	}
	if out["title"] != "A" {
		t.Errorf("unexpected title: %v", out["title"])
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{nil, "-"},
		{map[string]interface{}{"b": 1, "a": 2}, "{a, b}"},
		{[]interface{}{1, 2, 3}, "[3 items]"},
		{"text", "text"},
	}
	for _, tt := range tests {
		if got := summarize(tt.in); got != tt.want {
			t.Errorf("summarize(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestErrorClass(t *testing.T) {
	wrapped := engine.NewModuleExecutionError("/p/a.ts", engine.NewModuleNotFoundError("./x", "/p/a.ts"))
	if got := errorClass(wrapped); got != string(engine.ErrorClassNotFound) {
		t.Errorf("expected innermost class, got %s", got)
	}
	if got := errorClass(errors.New("plain")); got != "error" {
		t.Errorf("expected generic class, got %s", got)
	}
}
