// Package rtconfig loads the worker-pool configuration. Every field but
// one boolean toggle (DisableStackCache) is an integer where 0 means
// "implementation default"; it is used only at
// Pool construction. Loading layers defaults, then an optional YAML
// file, then environment-variable overrides.
package rtconfig

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the executor.Pool construction-time configuration. Zero
// values mean "implementation default" and are resolved by
// executor.New/WithDefaults.
type Config struct {
	// CmdBufCapacity is the admission ring size.
	CmdBufCapacity int `yaml:"cmd_buf_capacity"`
	// WorkerCount is the number of OS threads backing the pool.
	WorkerCount int `yaml:"worker_count"`
	// MaxLoadFactor caps concurrently live tasks at WorkerCount * MaxLoadFactor.
	MaxLoadFactor int `yaml:"max_load_factor"`
	// StackSize is the minimum coroutine stack size in bytes.
	StackSize int `yaml:"stack_size"`
	// WorkerStackCacheLen is the number of free stacks retained per worker.
	WorkerStackCacheLen int `yaml:"worker_stack_cache_len"`
	// DisableStackCache frees every stack immediately instead of caching it.
	DisableStackCache bool `yaml:"disable_stack_cache"`
}

// Defaults mirror what a zero Config resolves to.
const (
	DefaultCmdBufCapacity      = 64
	DefaultWorkerCount         = 0 // resolved to runtime.NumCPU() at construction
	DefaultMaxLoadFactor       = 64
	DefaultStackSize           = 256 * 1024
	DefaultWorkerStackCacheLen = 8
)

// WithDefaults returns a copy of c with zero fields replaced by defaults.
// WorkerCount of 0 is left to the caller (executor.New resolves it against
// runtime.NumCPU, since rtconfig must not import runtime policy).
func (c Config) WithDefaults() Config {
	if c.CmdBufCapacity == 0 {
		c.CmdBufCapacity = DefaultCmdBufCapacity
	}
	if c.MaxLoadFactor == 0 {
		c.MaxLoadFactor = DefaultMaxLoadFactor
	}
	if c.StackSize == 0 {
		c.StackSize = DefaultStackSize
	}
	if c.WorkerStackCacheLen == 0 {
		c.WorkerStackCacheLen = DefaultWorkerStackCacheLen
	}
	return c
}

// Load reads YAML config from path (if non-empty and present), then
// applies TASKRT_* environment overrides on top of it.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("taskrt: read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("taskrt: parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setIntEnv("TASKRT_CMD_BUF_CAPACITY", &cfg.CmdBufCapacity)
	setIntEnv("TASKRT_WORKER_COUNT", &cfg.WorkerCount)
	setIntEnv("TASKRT_MAX_LOAD_FACTOR", &cfg.MaxLoadFactor)
	setIntEnv("TASKRT_STACK_SIZE", &cfg.StackSize)
	setIntEnv("TASKRT_WORKER_STACK_CACHE_LEN", &cfg.WorkerStackCacheLen)
	if v, ok := os.LookupEnv("TASKRT_DISABLE_STACK_CACHE"); ok {
		cfg.DisableStackCache = v == "1" || v == "true"
	}
}

func setIntEnv(name string, dst *int) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = n
}
