// Package timeouts defines shared timeout constants used across the engine.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// RemoteFetch caps the wait time when fetching a remote world copy.
const RemoteFetch = 10 * time.Second

// RemotePush caps the time allowed to upload a resolved world to the remote.
const RemotePush = 30 * time.Second

// StorageOpen caps the wait for the SQLite busy handler when opening a store.
const StorageOpen = 5 * time.Second

// AutoSaveFlush bounds a single auto-save queue flush pass.
const AutoSaveFlush = 15 * time.Second

// Shutdown limits how long background tickers wait to drain during
// graceful shutdown.
const Shutdown = 5 * time.Second
