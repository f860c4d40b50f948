package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/contentkit/modrun/pkg/engine"
	"github.com/contentkit/modrun/pkg/stores"
)

// ExampleOpen demonstrates persisting compiled text by content hash.
func ExampleOpen() {
	ctx := context.Background()
	store, err := stores.Open(ctx, ":memory:")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	unit := engine.CompiledUnit{Path: "/p/a.ts", Text: "exports.a = 1;", Hash: "example"}
	if err := store.Put(ctx, unit); err != nil {
		log.Fatal(err)
	}

	text, ok, err := store.Get(ctx, "example")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(ok, text)
	// Output: true exports.a = 1;
}
