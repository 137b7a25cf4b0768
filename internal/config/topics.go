package config

const (
	// TopicSnapshotProcess carries (re)process requests for a snapshot source key.
	TopicSnapshotProcess = "snapshot.process"

	// ChannelSnapshotWorker is the consumer channel of the ingestion worker.
	ChannelSnapshotWorker = "ingestion"
)
