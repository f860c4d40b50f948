package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas used to check raw configuration
// documents before they are decoded into Go structs. Definitions are closed,
// so a misspelled key is reported instead of silently ignored.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry holding the built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema("settings", "#Settings", builtinSettingsSchema); err != nil {
		panic(err)
	}

	return sr
}

// RegisterSchema compiles source and registers the definition named def
// under name.
func (sr *SchemaRegistry) RegisterSchema(name, def, source string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	defVal := val.LookupPath(cue.ParsePath(def))
	if !defVal.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, def)
	}
	if err := defVal.Err(); err != nil {
		return fmt.Errorf("invalid definition %s in schema %s: %w", def, name, err)
	}

	sr.schemas[name] = defVal
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Validate checks data against a named schema. A cue.Context is not safe
// for concurrent use, so validation holds the registry lock.
func (sr *SchemaRegistry) Validate(schemaName string, data interface{}) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	schema, ok := sr.schemas[schemaName]
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	if data == nil {
		data = map[string]interface{}{}
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinSettingsSchema = `
// Settings schema for modrun.yaml
#Settings: {
	// Manifest file names searched under a project root
	manifest_names?: [...string & !=""]

	// Project configuration file names, in order of preference
	config_names?: [...string & !=""]

	compile_cache?: {
		enabled?:  bool
		path?:     string
		max_age?:  string
	}

	resolver?: {
		cache_size?: int & >0
	}

	logging?: {
		level?:  "trace" | "debug" | "info" | "warn" | "error"
		format?: "console" | "json"
	}

	metrics?: {
		enabled?:        bool
		listen_address?: string
		path?:           string & =~"^/"
	}

	tracing?: {
		enabled?:  bool
		exporter?: "stdout" | "otlp" | "none"
		endpoint?: string
		insecure?: bool
	}

	// Remote project host reached over SFTP
	remote?: {
		host:                    string & !=""
		port?:                   int & >0 & <65536
		user:                    string & !=""
		auth_method?:            "password" | "key"
		password?:               string
		private_key_path?:       string
		private_key_passphrase?: string
		known_hosts_path?:       string
		connection_timeout?:     string
		root?:                   string
	}
}
`
