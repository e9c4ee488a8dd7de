package kafka

// Topic definitions for Kafka event streaming
const (
	// TopicAnalysisRequested is the job queue consumed by workers.
	TopicAnalysisRequested = "analysis.requested"
	// TopicAnalysisCompleted carries the outcome of every persisted run.
	TopicAnalysisCompleted = "analysis.completed"
)

// Topics lists every topic the service produces to.
var Topics = []string{TopicAnalysisRequested, TopicAnalysisCompleted}
