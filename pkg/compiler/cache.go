package compiler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/contentkit/modrun/pkg/engine"
	"github.com/contentkit/modrun/pkg/telemetry"
)

// formatVersion changes whenever the compiled text format changes, so stale
// persistent entries are never reused.
const formatVersion = "modrun-cjs-1"

// Hash returns the content hash identifying a compilation of source as the
// loader for p would see it under opts.
func Hash(source string, p engine.NormalizedPath, opts engine.DialectOptions) string {
	fingerprint, _ := json.Marshal(struct {
		Version string                `json:"v"`
		Loader  string                `json:"loader"`
		Dialect engine.DialectOptions `json:"dialect"`
	}{
		Version: formatVersion,
		Loader:  loaderName(string(p)),
		Dialect: opts,
	})

	h := sha256.New()
	h.Write(fingerprint)
	h.Write([]byte{0})
	h.Write([]byte(source))
	return hex.EncodeToString(h.Sum(nil))
}

func loaderName(p string) string {
	if IsDeclarationFile(p) {
		return "declaration"
	}
	return strconv.Itoa(int(loaderFor(p)))
}

// Caching wraps a compiler with a content-addressed CompileStore. Hits skip
// the inner compiler entirely; store failures degrade to a plain compile.
type Caching struct {
	inner   engine.Compiler
	store   engine.CompileStore
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	timeout time.Duration
}

// NewCaching creates a caching compiler.
func NewCaching(inner engine.Compiler, store engine.CompileStore, logger zerolog.Logger, metrics *telemetry.Metrics) *Caching {
	return &Caching{
		inner:   inner,
		store:   store,
		logger:  logger.With().Str("component", "compile-cache").Logger(),
		metrics: metrics,
		timeout: 5 * time.Second,
	}
}

// Compile implements engine.Compiler.
func (c *Caching) Compile(source string, p engine.NormalizedPath, opts engine.DialectOptions) (string, error) {
	hash := Hash(source, p, opts)

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	text, ok, err := c.store.Get(ctx, hash)
	if err != nil {
		c.logger.Warn().Err(err).Str("path", string(p)).Msg("Compile store lookup failed")
	}
	c.metrics.RecordCompileStoreLookup(ok)
	if ok {
		c.logger.Debug().Str("path", string(p)).Str("hash", hash[:12]).Msg("Compile store hit")
		return text, nil
	}

	text, err = c.inner.Compile(source, p, opts)
	if err != nil {
		return "", err
	}

	if err := c.store.Put(ctx, engine.CompiledUnit{Path: p, Text: text, Hash: hash}); err != nil {
		c.logger.Warn().Err(err).Str("path", string(p)).Msg("Compile store write failed")
	}
	return text, nil
}

// Counting wraps a compiler and counts invocations per path.
type Counting struct {
	inner engine.Compiler

	mu     sync.Mutex
	total  int
	byPath map[engine.NormalizedPath]int
}

// NewCounting creates a counting compiler.
func NewCounting(inner engine.Compiler) *Counting {
	return &Counting{
		inner:  inner,
		byPath: make(map[engine.NormalizedPath]int),
	}
}

// Compile implements engine.Compiler.
func (c *Counting) Compile(source string, p engine.NormalizedPath, opts engine.DialectOptions) (string, error) {
	c.mu.Lock()
	c.total++
	c.byPath[p]++
	c.mu.Unlock()
	return c.inner.Compile(source, p, opts)
}

// Calls returns the total number of invocations.
func (c *Counting) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// CallsFor returns the number of invocations for p.
func (c *Counting) CallsFor(p engine.NormalizedPath) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byPath[p]
}
