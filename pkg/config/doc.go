// Package config loads the two kinds of configuration modrun reads.
//
// # Project configuration
//
// FindConfigFile walks up from a file or directory until it meets a
// tsconfig.json (then jsconfig.json). TSConfigLoader parses the file as JSON
// with comments and trailing commas, follows its extends chain (relative
// files and packages under node_modules) and produces an
// engine.ProjectConfig:
//
//	cfg, err := config.NewTSConfigLoader(h).Load(file)
//	// cfg.BaseURL, cfg.Paths (declaration order, absolute targets), cfg.Dialect
//
// # Tool settings
//
// SettingsLoader reads modrun.yaml. The raw document is first checked against
// a closed CUE schema, then decoded over DefaultSettings, overridden from
// MODRUN_* environment variables (optionally loaded from a .env file with
// LoadDotEnv) and finally validated with struct tags.
package config
