package messaging

// Subject constants for the ETL run notifications.
// Follow the pattern: {domain}.{resource}.{action}
const (
	SubjectRunCompleted = "etl.run.completed" // Run reached DONE
	SubjectRunAborted   = "etl.run.aborted"   // Run reached ABORTED
)

// Header names attached to run notifications.
const (
	HeaderRunID = "Etl-Run-Id"
	HeaderState = "Etl-State"
)
