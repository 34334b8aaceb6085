// Package sqlite persists odometry runs in SQLite: one row per run, per
// tracked frame and per keyframe.
//
// The schema is owned by the embedded migrations; Open applies the standard
// connection PRAGMAs and MigrateUp brings the schema to the latest version.
// TrajectoryStore.Sink adapts the store to tracker.Sink so a run can be
// recorded as it is tracked.
package sqlite
