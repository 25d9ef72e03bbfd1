package fits

// ProgressSink is the publish-only handle an ingestor uses to reach viewer
// sessions. Delivery is asynchronous; implementations must never block the
// decode loop, and dropped sessions must not surface here as errors.
type ProgressSink interface {
	// Progress posts one ingestion progress event for a dataset.
	Progress(datasetID, stage string, total, running int32)

	// FrequencyRange publishes the cube's spectral coverage in GHz, enabling
	// scoped molecule-catalog lookups.
	FrequencyRange(datasetID string, lo, hi float64)
}

// NopSink discards all events. Useful for batch loads and tests.
type NopSink struct{}

func (NopSink) Progress(string, string, int32, int32) {}

func (NopSink) FrequencyRange(string, float64, float64) {}
