package engine_test

import (
	"fmt"

	"github.com/contentkit/modrun/pkg/engine"
)

// Example_normalize shows that spellings of one file share an identity.
func Example_normalize() {
	a := engine.Normalize("src/../src/a.val.ts", "/p", true)
	b := engine.Normalize(`\p\src\a.val.ts`, "", true)
	c := engine.Normalize("/P/Src/A.val.ts", "", false)

	fmt.Println(a)
	fmt.Println(a == b)
	fmt.Println(c)
	// Output:
	// /p/src/a.val.ts
	// true
	// /p/src/a.val.ts
}

// Example_errors shows how a failure is classified after crossing module
// boundaries.
func Example_errors() {
	missing := engine.NewModuleNotFoundError("./x", "/p/b.ts")
	inB := engine.NewModuleExecutionError("/p/b.ts", missing)
	inA := engine.NewModuleExecutionError("/p/a.ts", fmt.Errorf("require failed: %w", inB))

	inner, _ := engine.Innermost(inA)
	fmt.Println(engine.IsNotFound(inA), engine.IsExecution(inA))
	fmt.Println(inner.Specifier, inner.Importer)
	// Output:
	// true true
	// ./x /p/b.ts
}
