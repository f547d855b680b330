// Package core defines the shared data model of the agent runtime: chat
// messages with tool-call metadata, cumulative token usage counters, and the
// typed lifecycle events emitted while a run progresses. Higher layers
// (session persistence, the reactive loop, the subagent registry) all speak
// in terms of these types.
package core
