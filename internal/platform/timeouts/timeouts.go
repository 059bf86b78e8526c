// Package timeouts defines shared timeout constants.
package timeouts

import "time"

// Shutdown limits how long telemetry and background loops get to drain.
const Shutdown = 5 * time.Second

// DeadlinePoll is the default interval between deadline store scans.
const DeadlinePoll = time.Second

// SQLiteBusy is the busy timeout handed to SQLite connections.
const SQLiteBusy = 5 * time.Second
