// Package config parses the coordinator's operating parameters (§6 of the
// design) from file, environment, and defaults via viper, the way the
// teacher's cmd/ commands layer flags and config files over viper.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds every tunable named in the coordinator design doc. All fields
// have defaults so a zero-value Load("") still returns a usable Config.
type Config struct {
	SkipDeletionForAlter             bool          `mapstructure:"skip_deletion_for_alter"`
	SkipTargetCleanupOnRollback      bool          `mapstructure:"skip_target_cleanup_on_rollback"`
	WritesToNonManagedTablesEnabled  bool          `mapstructure:"writes_to_non_managed_tables_enabled"`
	CreatesOfNonManagedTablesEnabled bool          `mapstructure:"creates_of_non_managed_tables_enabled"`
	DeleteSchemaLocationsFallback    bool          `mapstructure:"delete_schema_locations_fallback"`
	MaxConcurrentFilesystemOps       int           `mapstructure:"max_concurrent_filesystem_operations"`
	MaxConcurrentMetastoreDrops      int           `mapstructure:"max_concurrent_metastore_drops"`
	MaxConcurrentMetastoreUpdates    int           `mapstructure:"max_concurrent_metastore_updates"`
	MaxPartitionDropsPerQuery        int           `mapstructure:"max_partition_drops_per_query"`
	PerTransactionCacheMaxSize       int           `mapstructure:"per_transaction_cache_max_size"`
	HiveTransactionHeartbeatInterval time.Duration `mapstructure:"hive_transaction_heartbeat_interval"`
	PartitionCommitBatchSize         int           `mapstructure:"partition_commit_batch_size"`

	// FinishPhaseErrorsFatal switches the finish-phase from "log only" to
	// "return the error", for tests that must assert on scrub failures (§7).
	FinishPhaseErrorsFatal bool `mapstructure:"finish_phase_errors_fatal"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("skip_deletion_for_alter", false)
	v.SetDefault("skip_target_cleanup_on_rollback", false)
	v.SetDefault("writes_to_non_managed_tables_enabled", false)
	v.SetDefault("creates_of_non_managed_tables_enabled", false)
	v.SetDefault("delete_schema_locations_fallback", false)
	v.SetDefault("max_concurrent_filesystem_operations", 20)
	v.SetDefault("max_concurrent_metastore_drops", 20)
	v.SetDefault("max_concurrent_metastore_updates", 20)
	v.SetDefault("max_partition_drops_per_query", 100000)
	v.SetDefault("per_transaction_cache_max_size", 1000)
	v.SetDefault("hive_transaction_heartbeat_interval", 4*time.Minute)
	v.SetDefault("partition_commit_batch_size", 8)
	v.SetDefault("finish_phase_errors_fatal", false)
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("METACOORD")
	v.AutomaticEnv()
	defaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}
	return v, nil
}

func unmarshalAndValidate(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads configuration from the given file path (if non-empty), overlays
// environment variables prefixed METACOORD_, and fills in defaults for
// anything left unset.
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return unmarshalAndValidate(v)
}

// Watcher holds a Config that live-reloads from its backing file, so a
// long-running coordinator process can pick up an operator's tuning change
// (e.g. loosening max_concurrent_filesystem_operations under load) without a
// restart. A reload that fails to parse or validate is logged by the caller
// via OnReloadError and the previous Config is kept in place.
type Watcher struct {
	v  *viper.Viper
	mu sync.RWMutex
	cu *Config
}

// WatchFile opens path, validates it once, and starts watching it for
// changes. path must be non-empty; there is nothing to watch otherwise.
func WatchFile(path string, onReloadError func(error)) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config: WatchFile requires a non-empty path")
	}
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	c, err := unmarshalAndValidate(v)
	if err != nil {
		return nil, err
	}

	w := &Watcher{v: v, cu: c}
	v.OnConfigChange(func(_ fsnotify.Event) {
		next, err := unmarshalAndValidate(v)
		if err != nil {
			if onReloadError != nil {
				onReloadError(err)
			}
			return
		}
		w.mu.Lock()
		w.cu = next
		w.mu.Unlock()
	})
	v.WatchConfig()
	return w, nil
}

// Current returns the most recently loaded, successfully validated Config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cu
}

// Default returns a Config populated entirely from defaults, for tests and
// embedders that don't need file/env overlay.
func Default() *Config {
	c, err := Load("")
	if err != nil {
		panic(err) // defaults are constant and always valid
	}
	return c
}

func (c Config) validate() error {
	if c.MaxConcurrentFilesystemOps <= 0 {
		return fmt.Errorf("config: max_concurrent_filesystem_operations must be > 0")
	}
	if c.MaxConcurrentMetastoreDrops <= 0 {
		return fmt.Errorf("config: max_concurrent_metastore_drops must be > 0")
	}
	if c.MaxConcurrentMetastoreUpdates <= 0 {
		return fmt.Errorf("config: max_concurrent_metastore_updates must be > 0 (1 means inline)")
	}
	if c.PartitionCommitBatchSize <= 0 {
		return fmt.Errorf("config: partition_commit_batch_size must be > 0")
	}
	return nil
}

// InlineMetastoreUpdates reports whether stats updates should run inline
// rather than on the bounded pool, per §6 ("=1 ⇒ inline").
func (c Config) InlineMetastoreUpdates() bool {
	return c.MaxConcurrentMetastoreUpdates == 1
}
