// Package reminder keeps the in-process registry of pending reminder timers.
//
// A timer exists for a stored event only between "armed" and "fired or
// cancelled". Nothing here is persisted: after a restart the registry is
// rebuilt from the user store (Recover) and kept in step with edits made by
// other processes (StartResync and the store watcher).
package reminder
