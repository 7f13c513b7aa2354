// Package audit carries security events from the engine to pluggable sinks.
//
// [Dispatcher] decouples emitters from sinks with a bounded buffer and a
// single delivery goroutine; with DropIfFull set, a slow sink costs dropped
// events rather than request latency. Sinks shipped here write JSON lines,
// structured zap entries, or a channel (tests).
//
// The package decides nothing about which events exist; the engine does.
package audit
