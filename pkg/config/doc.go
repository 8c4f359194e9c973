// Package config loads the volume layer's YAML configuration: the active
// volume list, the replacement rules consumed on startup, and the tuning for
// coordinator election and registry retries. Configuration errors are fatal;
// a process with no valid volume set must not start.
package config
