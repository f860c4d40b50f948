package config

import (
	"testing"

	"github.com/contentkit/modrun/pkg/engine"
	"github.com/contentkit/modrun/pkg/host"
)

func TestFindConfigFile(t *testing.T) {
	h := host.NewMemoryFromMap(map[string]string{
		"/repo/tsconfig.json":          `{}`,
		"/repo/app/jsconfig.json":      `{}`,
		"/repo/app/src/val.modules.ts": ``,
		"/repo/lib/deep/x.ts":          ``,
		"/other/file.ts":               ``,
	})

	tests := []struct {
		name    string
		start   string
		want    string
		wantErr bool
	}{
		{name: "nearest wins", start: "/repo/app/src/val.modules.ts", want: "/repo/app/jsconfig.json"},
		{name: "walks several levels", start: "/repo/lib/deep/x.ts", want: "/repo/tsconfig.json"},
		{name: "directory start", start: "/repo/lib", want: "/repo/tsconfig.json"},
		{name: "none reachable", start: "/other/file.ts", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindConfigFile(h, engine.NormalizedPath(tt.start))
			if tt.wantErr {
				if !engine.IsConfigurationNotFound(err) {
					t.Fatalf("expected configuration-not-found, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFindConfigFile_PrefersTSConfig(t *testing.T) {
	h := host.NewMemoryFromMap(map[string]string{
		"/p/tsconfig.json": `{}`,
		"/p/jsconfig.json": `{}`,
		"/p/a.ts":          ``,
	})

	got, err := FindConfigFile(h, "/p/a.ts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/p/tsconfig.json" {
		t.Errorf("got %s", got)
	}
}

func TestTSConfigLoader_Load(t *testing.T) {
	h := host.NewMemoryFromMap(map[string]string{
		"/p/tsconfig.json": `{
			// comments and trailing commas are allowed
			"compilerOptions": {
				"baseUrl": "./src",
				"jsx": "React-JSX",
				"experimentalDecorators": true,
				"paths": {
					"@app/*": ["app/*", "fallback/*"],
					"@/*": ["*"],
					"config": ["cfg/index.ts"],
				},
			},
		}`,
	})

	cfg, err := NewTSConfigLoader(h).Load("/p/tsconfig.json")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.BaseURL != "/p/src" {
		t.Errorf("BaseURL = %s", cfg.BaseURL)
	}
	if cfg.Dialect.JSX != engine.JSXAutomatic {
		t.Errorf("JSX = %s", cfg.Dialect.JSX)
	}
	if !cfg.Dialect.ExperimentalDecorators {
		t.Error("expected experimentalDecorators")
	}

	wantPatterns := []string{"@app/*", "@/*", "config"}
	if len(cfg.Paths) != len(wantPatterns) {
		t.Fatalf("got %d aliases, want %d", len(cfg.Paths), len(wantPatterns))
	}
	for i, p := range wantPatterns {
		if cfg.Paths[i].Pattern != p {
			t.Errorf("alias %d = %s, want %s", i, cfg.Paths[i].Pattern, p)
		}
	}
	if got := cfg.Paths[0].Targets; len(got) != 2 || got[0] != "/p/src/app/*" || got[1] != "/p/src/fallback/*" {
		t.Errorf("targets = %v", got)
	}
}

func TestTSConfigLoader_Extends(t *testing.T) {
	h := host.NewMemoryFromMap(map[string]string{
		"/p/tsconfig.json": `{
			"extends": "./tsconfig.base",
			"compilerOptions": { "jsx": "preserve" }
		}`,
		"/p/tsconfig.base.json": `{
			"extends": "@company/tsconfig",
			"compilerOptions": {
				"baseUrl": ".",
				"paths": { "~/*": ["lib/*"] }
			}
		}`,
		"/p/node_modules/@company/tsconfig/tsconfig.json": `{
			"compilerOptions": { "jsx": "react", "jsxFactory": "h", "target": "ES2020" }
		}`,
	})

	cfg, err := NewTSConfigLoader(h).Load("/p/tsconfig.json")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Dialect.JSX != engine.JSXPreserve {
		t.Errorf("child jsx should win, got %s", cfg.Dialect.JSX)
	}
	if cfg.Dialect.JSXFactory != "h" {
		t.Errorf("jsxFactory = %q", cfg.Dialect.JSXFactory)
	}
	if cfg.Dialect.Target != "es2020" {
		t.Errorf("target = %q", cfg.Dialect.Target)
	}
	if cfg.BaseURL != "/p" {
		t.Errorf("BaseURL = %s", cfg.BaseURL)
	}
	if len(cfg.Paths) != 1 || cfg.Paths[0].Targets[0] != "/p/lib/*" {
		t.Errorf("paths = %+v", cfg.Paths)
	}
}

func TestTSConfigLoader_SharedBase(t *testing.T) {
	h := host.NewMemoryFromMap(map[string]string{
		"/p/tsconfig.json": `{
			"extends": ["./a.json", "./b.json"],
			"compilerOptions": { "baseUrl": "." }
		}`,
		"/p/a.json":    `{"extends": "./base.json", "compilerOptions": {"jsxFactory": "h"}}`,
		"/p/b.json":    `{"extends": "./base.json", "compilerOptions": {"target": "ES2019"}}`,
		"/p/base.json": `{"compilerOptions": {"jsx": "react", "target": "ES2017"}}`,
	})

	cfg, err := NewTSConfigLoader(h).Load("/p/tsconfig.json")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Dialect.JSX != engine.JSXTransform {
		t.Errorf("jsx = %s", cfg.Dialect.JSX)
	}
	if cfg.Dialect.JSXFactory != "h" {
		t.Errorf("jsxFactory = %q", cfg.Dialect.JSXFactory)
	}
	if cfg.Dialect.Target != "es2019" {
		t.Errorf("later base should win, target = %q", cfg.Dialect.Target)
	}
}

func TestTSConfigLoader_Errors(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
	}{
		{
			name:  "malformed",
			files: map[string]string{"/p/tsconfig.json": `{"compilerOptions": `},
		},
		{
			name:  "invalid jsx",
			files: map[string]string{"/p/tsconfig.json": `{"compilerOptions": {"jsx": "vue"}}`},
		},
		{
			name:  "two wildcards",
			files: map[string]string{"/p/tsconfig.json": `{"compilerOptions": {"paths": {"*/*": ["x"]}}}`},
		},
		{
			name:  "missing base",
			files: map[string]string{"/p/tsconfig.json": `{"extends": "./nope"}`},
		},
		{
			name: "circular extends",
			files: map[string]string{
				"/p/tsconfig.json": `{"extends": "./b.json"}`,
				"/p/b.json":        `{"extends": "./tsconfig.json"}`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := host.NewMemoryFromMap(tt.files)
			if _, err := NewTSConfigLoader(h).Load("/p/tsconfig.json"); err == nil {
				t.Error("expected error")
			}
		})
	}
}
