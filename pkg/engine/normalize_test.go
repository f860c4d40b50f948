package engine

import "testing"

func TestNormalize_EquivalentSpellings(t *testing.T) {
	tests := []struct {
		name        string
		a, b        string
		base        string
		insensitive bool
	}{
		{name: "dot segment", a: "/p/./a.ts", b: "/p/a.ts"},
		{name: "parent segment", a: "/p/x/../a.ts", b: "/p/a.ts"},
		{name: "double slash", a: "/p//a.ts", b: "/p/a.ts"},
		{name: "trailing slash", a: "/p/src/", b: "/p/src"},
		{name: "relative against base", a: "src/a.ts", b: "/p/src/a.ts", base: "/p"},
		{name: "backslashes", a: `/p\src\a.ts`, b: "/p/src/a.ts"},
		{name: "case insensitive", a: "/P/Src/A.ts", b: "/p/src/a.ts", insensitive: true},
		{name: "windows volume", a: `C:\proj\.\a.ts`, b: "C:/proj/a.ts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			na := Normalize(tt.a, tt.base, !tt.insensitive)
			nb := Normalize(tt.b, tt.base, !tt.insensitive)
			if na != nb {
				t.Errorf("Normalize(%q)=%q, Normalize(%q)=%q; want equal", tt.a, na, tt.b, nb)
			}
		})
	}
}

func TestNormalize_CaseSensitiveKeepsCase(t *testing.T) {
	if Normalize("/P/a.ts", "", true) == Normalize("/p/a.ts", "", true) {
		t.Error("case-sensitive normalization must keep distinct spellings distinct")
	}
}

func TestNormalizedPath_Helpers(t *testing.T) {
	p := NormalizedPath("/p/src/a.val.ts")

	if p.Dir() != "/p/src" {
		t.Errorf("expected dir /p/src, got %s", p.Dir())
	}
	if p.Base() != "a.val.ts" {
		t.Errorf("expected base a.val.ts, got %s", p.Base())
	}
	if got := p.Dir().Join("..", "b.ts"); got != "/p/b.ts" {
		t.Errorf("expected /p/b.ts, got %s", got)
	}
}

func TestProjectConfig_AliasRoot(t *testing.T) {
	cfg := &ProjectConfig{ConfigFile: "/p/tsconfig.json"}
	if cfg.AliasRoot() != "/p" {
		t.Errorf("expected /p, got %s", cfg.AliasRoot())
	}

	cfg.BaseURL = "/p/src"
	if cfg.AliasRoot() != "/p/src" {
		t.Errorf("expected /p/src, got %s", cfg.AliasRoot())
	}

	empty := &ProjectConfig{}
	if empty.AliasRoot() != "" {
		t.Errorf("expected empty alias root, got %s", empty.AliasRoot())
	}
}
