package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/contentkit/modrun/pkg/engine"
)

// rawTSConfig is the subset of tsconfig.json/jsconfig.json the engine reads.
type rawTSConfig struct {
	// Extends is a string or an array of strings.
	Extends json.RawMessage `json:"extends,omitempty"`

	CompilerOptions rawCompilerOptions `json:"compilerOptions"`
}

// rawCompilerOptions mirrors compilerOptions. Pointer fields distinguish
// "unset" from a zero value so extends chains merge correctly.
type rawCompilerOptions struct {
	BaseURL *string         `json:"baseUrl,omitempty"`
	Paths   json.RawMessage `json:"paths,omitempty"`

	Target *string `json:"target,omitempty" validate:"omitempty,oneof=es3 es5 es6 es2015 es2016 es2017 es2018 es2019 es2020 es2021 es2022 es2023 es2024 esnext"`

	JSX                *string `json:"jsx,omitempty" validate:"omitempty,oneof=preserve react react-jsx react-jsxdev react-native"`
	JSXFactory         *string `json:"jsxFactory,omitempty"`
	JSXFragmentFactory *string `json:"jsxFragmentFactory,omitempty"`
	JSXImportSource    *string `json:"jsxImportSource,omitempty"`

	ExperimentalDecorators  *bool `json:"experimentalDecorators,omitempty"`
	UseDefineForClassFields *bool `json:"useDefineForClassFields,omitempty"`
}

// extendsList returns the extends entries in application order.
func (c *rawTSConfig) extendsList() ([]string, error) {
	if len(c.Extends) == 0 || string(c.Extends) == "null" {
		return nil, nil
	}

	var single string
	if err := json.Unmarshal(c.Extends, &single); err == nil {
		return []string{single}, nil
	}

	var many []string
	if err := json.Unmarshal(c.Extends, &many); err != nil {
		return nil, fmt.Errorf("extends must be a string or an array of strings")
	}
	return many, nil
}

// normalize lower-cases the enumerated options, which tsc treats
// case-insensitively.
func (o *rawCompilerOptions) normalize() {
	for _, s := range []*string{o.Target, o.JSX} {
		if s != nil {
			*s = strings.ToLower(*s)
		}
	}
}

// overlay copies every option set in child onto o.
func (o *rawCompilerOptions) overlay(child rawCompilerOptions) {
	if child.Target != nil {
		o.Target = child.Target
	}
	if child.JSX != nil {
		o.JSX = child.JSX
	}
	if child.JSXFactory != nil {
		o.JSXFactory = child.JSXFactory
	}
	if child.JSXFragmentFactory != nil {
		o.JSXFragmentFactory = child.JSXFragmentFactory
	}
	if child.JSXImportSource != nil {
		o.JSXImportSource = child.JSXImportSource
	}
	if child.ExperimentalDecorators != nil {
		o.ExperimentalDecorators = child.ExperimentalDecorators
	}
	if child.UseDefineForClassFields != nil {
		o.UseDefineForClassFields = child.UseDefineForClassFields
	}
}

// dialect converts the merged options into compiler options.
func (o *rawCompilerOptions) dialect() engine.DialectOptions {
	d := engine.DialectOptions{
		UseDefineForClassFields: o.UseDefineForClassFields,
	}
	if o.Target != nil {
		d.Target = *o.Target
	}
	if o.JSX != nil {
		switch *o.JSX {
		case "preserve", "react-native":
			d.JSX = engine.JSXPreserve
		case "react-jsx", "react-jsxdev":
			d.JSX = engine.JSXAutomatic
		default:
			d.JSX = engine.JSXTransform
		}
	}
	if o.JSXFactory != nil {
		d.JSXFactory = *o.JSXFactory
	}
	if o.JSXFragmentFactory != nil {
		d.JSXFragmentFactory = *o.JSXFragmentFactory
	}
	if o.JSXImportSource != nil {
		d.JSXImportSource = *o.JSXImportSource
	}
	if o.ExperimentalDecorators != nil {
		d.ExperimentalDecorators = *o.ExperimentalDecorators
	}
	return d
}
