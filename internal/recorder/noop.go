package recorder

// NoopRecorder is a no-op implementation used when no stats database is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordSnapshot(_ *EconomySnapshot) error { return nil }
func (n *NoopRecorder) RecordMigration(_ *MigrationRun) error   { return nil }
func (n *NoopRecorder) Close() error                            { return nil }
