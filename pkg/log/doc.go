// Package log wraps zerolog with a process-wide logger and child-logger
// helpers carrying the fields the volume layer cares about (component,
// volume, tablet, server). Call Init once at startup before any other
// package logs.
package log
