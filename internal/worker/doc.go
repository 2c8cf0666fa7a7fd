// Package worker implements the offline cache worker: one Worker per deployed
// version of an app, and one Registration per app scope that owns the active
// and waiting versions plus the clients they control.
//
// A Worker classifies every intercepted request into a resource class, picks
// the strategy its profile maps that class to (network-first, cache-first,
// stale-while-revalidate or pass-through) and resolves the request against
// two cache generations: a static one filled at install time and a dynamic
// one filled at runtime. Activation drops every generation that belongs to a
// previous version before clients are claimed.
package worker
