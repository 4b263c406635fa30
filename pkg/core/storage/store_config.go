package storage

type (
	// DBConfiguration describes configuration for DB. Supported types:
	// 'leveldb', 'boltdb', 'inmemory'.
	DBConfiguration struct {
		Type           string         `yaml:"Type"`
		LevelDBOptions LevelDBOptions `yaml:"LevelDBOptions"`
		BoltDBOptions  BoltDBOptions  `yaml:"BoltDBOptions"`
	}

	// LevelDBOptions configuration for LevelDB.
	LevelDBOptions struct {
		DataDirectoryPath string `yaml:"DataDirectoryPath"`
		ReadOnly          bool   `yaml:"ReadOnly"`
		// WriteBufferSize is the size of the memtable in bytes, zero means
		// the engine default.
		WriteBufferSize int `yaml:"WriteBufferSize"`
		// BlockCacheCapacity is the sstable block cache size in bytes, zero
		// means the engine default.
		BlockCacheCapacity int `yaml:"BlockCacheCapacity"`
		// CompactionL0Trigger defers background compactions, higher values
		// reduce background activity at the cost of read amplification.
		CompactionL0Trigger    int `yaml:"CompactionL0Trigger"`
		OpenFilesCacheCapacity int `yaml:"OpenFilesCacheCapacity"`
	}

	// BoltDBOptions configuration for BoltDB.
	BoltDBOptions struct {
		FilePath string `yaml:"FilePath"`
		ReadOnly bool   `yaml:"ReadOnly"`
	}
)
