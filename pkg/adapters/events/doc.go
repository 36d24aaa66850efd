// Package events provides event bus implementations.
//
// Implementations:
//   - memory: synchronous in-process delivery, feeds the websocket stream
package events
