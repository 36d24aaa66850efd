// Package dataflow implements the typed data conduits the task graph is wired
// with: single-item value channels replayed to every subscriber, ordered
// per-sample stream channels delivered once per subscriber, and the keyed
// join, broadcast and collect-all combinators that recombine branched streams.
package dataflow
