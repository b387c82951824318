// Package learning routes feedback events to online-learning components
// and serves their aggregate analytics.
//
// The router validates each event at the boundary, classifies its
// decision id exactly once, and fans the event out to five components:
// per-theme pattern recognition, parameter tuning, quality prediction,
// per-strategy performance, and per-mode analytics. Component writes are
// independently fallible; one failing write never blocks the rest.
//
// Aggregates live in memory and are derived views. The outcomes table is
// the source of truth; Rebuild replays it at startup.
package learning
