// Package stores keeps the local run history in SQLite.
//
// SQLiteStore implements engine.EventPublisher. Every event the executor
// publishes is stored, and run_started, action_completed, action_failed,
// run_completed and run_failed events are folded into the runs and
// action_results tables so that a run can be listed without replaying its
// timeline. Schema changes are applied with golang-migrate from embedded
// migration files.
//
// The history is informational. The state file remains the only record the
// planner reads.
package stores
