// Package domain holds the data model shared by the orchestration engine:
// samples, reference bundles, task instances, artifacts, run events and the
// error taxonomy. Types here are plain data; behavior lives in the engine
// packages.
package domain
