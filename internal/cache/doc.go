// Package cache implements named cache generations. A generation maps a
// normalized request identity (Key) to a full response Snapshot. Workers open
// one static generation per version plus a dynamic one for runtime fills, and
// drop superseded generations on activation. Backends (filesystem, LevelDB,
// SQLite, Redis) share one Store contract so the worker never depends on the
// persistence layout.
package cache
