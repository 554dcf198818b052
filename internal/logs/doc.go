// Package logs reads worker log files for the CLI: the last N lines of a
// file, and follow mode that polls for appended lines until the context is
// cancelled. Memory stays bounded by the requested line count.
package logs
