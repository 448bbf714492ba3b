// Package config provides unified configuration loading for the voice
// agent backend: defaults, YAML file, then environment variable
// overrides, in that precedence order.
package config
