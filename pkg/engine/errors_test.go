package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Messages(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want []string
	}{
		{
			name: "compile with position",
			err:  NewCompileError("/p/a.ts", "Expected \";\"", &Position{Line: 3, Column: 7}),
			want: []string{"compile", "/p/a.ts:3:7", "Expected"},
		},
		{
			name: "not found",
			err:  NewModuleNotFoundError("./missing", "/p/a.ts"),
			want: []string{"module_not_found", `"./missing"`, "/p/a.ts"},
		},
		{
			name: "execution",
			err:  NewModuleExecutionError("/p/b.ts", errors.New("boom")),
			want: []string{"module_execution", "/p/b.ts", "boom"},
		},
		{
			name: "configuration",
			err:  NewConfigurationNotFoundError("/p/val.modules.ts"),
			want: []string{"configuration_not_found", "/p/val.modules.ts"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, w := range tt.want {
				if !strings.Contains(msg, w) {
					t.Errorf("expected %q to contain %q", msg, w)
				}
			}
		})
	}
}

func TestError_Predicates(t *testing.T) {
	compileErr := NewCompileError("/p/b.ts", "bad", nil)
	nested := NewModuleExecutionError("/p/a.ts", fmt.Errorf("require failed: %w", compileErr))

	if !IsExecution(nested) {
		t.Error("expected execution error")
	}
	if !IsCompile(nested) {
		t.Error("expected compile error to be found through the chain")
	}
	if IsNotFound(nested) {
		t.Error("did not expect not-found error")
	}

	inner, ok := Innermost(nested)
	if !ok || inner.Path != "/p/b.ts" {
		t.Errorf("expected innermost error for /p/b.ts, got %+v", inner)
	}

	outer, ok := AsError(nested)
	if !ok || outer.Path != "/p/a.ts" {
		t.Errorf("expected outermost error for /p/a.ts, got %+v", outer)
	}
}

func TestError_Is(t *testing.T) {
	err := fmt.Errorf("discover: %w", NewConfigurationNotFoundError("/p/x.ts"))

	if !errors.Is(err, ErrConfigurationNotFound) {
		t.Error("expected errors.Is to match the configuration sentinel")
	}
	if !IsConfigurationNotFound(err) {
		t.Error("expected IsConfigurationNotFound")
	}

	exec := NewModuleExecutionError("/p/b.ts", errors.New("boom"))
	if !errors.Is(exec, &Error{Class: ErrorClassExecution, Path: "/p/b.ts"}) {
		t.Error("expected match on class and path")
	}
	if errors.Is(exec, &Error{Class: ErrorClassExecution, Path: "/p/a.ts"}) {
		t.Error("did not expect match for a different path")
	}
}
