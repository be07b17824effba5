package model

import "time"

// Shared defaults used by the server and the one-shot walker.
const (
	DefaultSubsystem  = "shard"
	DefaultNamespace  = "mongodb"
	DefaultMaxDepth   = 64
	DefaultMetricsTTL = 5 * time.Minute
)
