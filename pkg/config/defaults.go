package config

const (
	defaultStorageDriver = "sqlite"
	defaultSQLitePath    = "beacon.db"

	defaultAPIListen = ":8080"

	defaultEventsTopic = "beacon.memory.changed"

	defaultSyncPageSize uint = 100
	defaultSyncWorkers  uint = 3
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Driver:     defaultStorageDriver,
			SQLitePath: defaultSQLitePath,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Events: EventsConfig{
			Topic: defaultEventsTopic,
		},
		Sync: SyncConfig{
			PageSize: defaultSyncPageSize,
			Workers:  defaultSyncWorkers,
		},
	}
}
