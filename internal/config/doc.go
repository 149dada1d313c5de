// Package config defines the YAML job file that describes one release
// packaging run and provides helpers to load, validate and save it.
//
// Relative paths in a job file are resolved against the file's directory.
package config
