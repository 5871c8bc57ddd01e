package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 1 * time.Second
	DefaultCapDelay   = 30 * time.Second
)

const (
	DefaultDispatcherWorkers = 3
)

const (
	DefaultReaperInterval = 1 * time.Hour
	DefaultStaleCutoff    = 2 * time.Hour
	ReaperTimeoutMessage  = "timeout - marked failed by system"
)

const (
	DefaultMongoDBName   = "conveyor"
	DeadLetterCollection = "dead_letters"
)

const (
	ProcessedKeyPrefix = "processed:"
	ProcessedKeyTTL    = 24 * time.Hour
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultLimit     = 100
	MaxLimit         = 1000
	RecentWindow     = 24 * time.Hour
	StatisticsWindow = 24 * time.Hour
)
