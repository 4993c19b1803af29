// Package engine implements the multi-file synchronization and
// conflict-resolution core of markboard.
//
// The engine keeps three views of a board mutually consistent: the
// in-memory board model shown by the structured UI, the primary markdown
// document as seen by a plain-text editor, and the include files the
// document references on disk. All three can change concurrently — the
// engine's job is to guarantee that no unsaved edit is ever lost silently,
// under any interleaving of UI edits, editor saves, external writes and
// the engine's own saves.
//
// # Architecture
//
// The engine consists of several components:
//
//   - FileRecord / Registry: one tracked record per file (the primary
//     document plus each discovered include), keyed by normalized
//     relative path
//   - Classify: a pure function deciding, from baseline / current / disk
//     content, whether an observed disk change is safe to adopt or is a
//     conflict
//   - Resolver: the human-in-the-loop protocol for conflicts, backed by a
//     Dialog collaborator and a BackupWriter
//   - SaveCoordinator: a state machine ensuring only one save is in
//     flight, distinguishing our own writes from external ones, and
//     unwinding cleanly from failed writes
//   - EventBus: a single-consumer queue serializing every incoming
//     notification so classification and resolution never interleave
//   - baseline capture: absorbing an open, uncommitted UI edit into a
//     record's baseline before classification, with a bounded timeout
//
// # Event flow
//
// External notifications (filesystem events, editor saves, UI messages)
// are published to the EventBus. The bus drains strictly one event at a
// time: the addressed record is looked up in the Registry, an open edit
// is captured if present, the situation is classified, and a conflict is
// handed to the Resolver. Any resulting disk write goes through the
// SaveCoordinator.
//
// # Concurrency
//
// All record mutation happens on the bus goroutine; no locks guard
// individual records. Reload operations are tagged with a sequence
// number and discard their result if a newer reload started meanwhile.
// Reloads are refused outright while a save is in flight.
package engine
