// Package config loads dispatcher, resilience and workflow settings from a
// YAML file layered over built-in defaults. A missing file is not an error;
// the defaults match the zero-config behavior of each component. The
// DISPATCHOPS_CONFIG environment variable overrides the file path.
package config
