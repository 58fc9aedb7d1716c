// Package config loads the store's construction parameters (spec §4.9) from
// a YAML file and LSMKV_-prefixed environment variables, the external
// "configuration loading" collaborator spec §1/§6 name as out of the core's
// scope. It never reaches into the engine beyond producing a StoreConfig.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// StoreConfig mirrors the store facade's construction parameters.
type StoreConfig struct {
	DataDir              string  `mapstructure:"data_dir"`
	MemtableSize         int     `mapstructure:"memtable_size"`
	MaxImmutableMemtables int    `mapstructure:"max_immutable_memtables"`
	MaxMemoryMB          int     `mapstructure:"max_memory_mb"`
	FlushWorkers         int     `mapstructure:"flush_workers"`
	LevelRatio           float64 `mapstructure:"level_ratio"`
	BaseLevelSizeMB      float64 `mapstructure:"base_level_size_mb"`
	BaseLevelEntries     int     `mapstructure:"base_level_entries"`
	MaxL0SSTables        int     `mapstructure:"max_l0_sstables"`
	SoftLimitRatio       float64 `mapstructure:"soft_limit_ratio"`
	SparseIndexBlockSize int     `mapstructure:"sparse_index_block_size"`
	SyncWALOnWrite       bool    `mapstructure:"sync_wal_on_write"`
	Verbose              bool    `mapstructure:"verbose"`
}

// Defaults returns the store's out-of-the-box configuration.
func Defaults() StoreConfig {
	return StoreConfig{
		DataDir:               "data",
		MemtableSize:          1000,
		MaxImmutableMemtables: 4,
		MaxMemoryMB:           64,
		FlushWorkers:          2,
		LevelRatio:            10,
		BaseLevelSizeMB:       10,
		BaseLevelEntries:      1000,
		MaxL0SSTables:         4,
		SoftLimitRatio:        0.85,
		SparseIndexBlockSize:  4,
		SyncWALOnWrite:        true,
	}
}

// Load reads configPath (if non-empty) as YAML, then applies LSMKV_-prefixed
// environment overrides on top, falling back to Defaults() for anything
// unset.
func Load(configPath string) (StoreConfig, error) {
	v := viper.New()
	d := Defaults()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LSMKV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, d)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return StoreConfig{}, err
		}
	}

	var cfg StoreConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return StoreConfig{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d StoreConfig) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("memtable_size", d.MemtableSize)
	v.SetDefault("max_immutable_memtables", d.MaxImmutableMemtables)
	v.SetDefault("max_memory_mb", d.MaxMemoryMB)
	v.SetDefault("flush_workers", d.FlushWorkers)
	v.SetDefault("level_ratio", d.LevelRatio)
	v.SetDefault("base_level_size_mb", d.BaseLevelSizeMB)
	v.SetDefault("base_level_entries", d.BaseLevelEntries)
	v.SetDefault("max_l0_sstables", d.MaxL0SSTables)
	v.SetDefault("soft_limit_ratio", d.SoftLimitRatio)
	v.SetDefault("sparse_index_block_size", d.SparseIndexBlockSize)
	v.SetDefault("sync_wal_on_write", d.SyncWALOnWrite)
	v.SetDefault("verbose", d.Verbose)
}
