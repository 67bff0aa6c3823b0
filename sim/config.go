package sim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults for the engine's tunable constants.
const (
	DefaultWBaseMS       = 10
	DefaultTau           = 5.0
	DefaultMaxBatch      = 16
	DefaultKVMax         = 32768
	DefaultAlpha         = 1.0
	DefaultPrefillRate   = 1024.0 // tokens/sec
	DefaultDecodeBase    = 128.0  // tokens/sec
	DefaultEntropyWindow = 50
	DefaultA100CostPerHr = 3.00 // USD/hour, approximate on-demand A100 rate
)

// TenantSpec describes a tenant's token-bucket configuration, the input
// to TenantRegistry.Register.
type TenantSpec struct {
	TenantID string
	Rate     float64 // tokens replenished per second, must be > 0
	BurstCap float64 // maximum accumulated tokens, must be >= Rate
}

// NewTenantSpec creates a TenantSpec with all fields explicitly set.
// This is the canonical constructor — all construction sites must use it.
// Panics if rate <= 0 or burstCap < rate.
func NewTenantSpec(tenantID string, rate, burstCap float64) TenantSpec {
	if rate <= 0 {
		panic("NewTenantSpec: rate must be > 0")
	}
	if burstCap < rate {
		panic("NewTenantSpec: burstCap must be >= rate")
	}
	return TenantSpec{TenantID: tenantID, Rate: rate, BurstCap: burstCap}
}

// SchedulerConfig groups HomeostaticScheduler tuning constants.
type SchedulerConfig struct {
	WBase         float64 // base batch window, seconds (default 0.010)
	Tau           float64 // entropy decay constant (default 5.0)
	MaxBatch      int     // max requests per batch (default 16)
	Alpha         float64 // aging coefficient, priority-units/sec (default 1.0)
	EntropyWindow int     // inter-arrival samples retained (default 50)
}

// NewSchedulerConfig creates a SchedulerConfig with all fields explicitly
// set. Canonical constructor — see TenantSpec's doc comment.
func NewSchedulerConfig(wBase, tau float64, maxBatch int, alpha float64, entropyWindow int) SchedulerConfig {
	if wBase <= 0 {
		panic("NewSchedulerConfig: wBase must be > 0")
	}
	if maxBatch <= 0 {
		panic("NewSchedulerConfig: maxBatch must be > 0")
	}
	if entropyWindow < 2 {
		panic("NewSchedulerConfig: entropyWindow must be >= 2")
	}
	return SchedulerConfig{
		WBase:         wBase,
		Tau:           tau,
		MaxBatch:      maxBatch,
		Alpha:         alpha,
		EntropyWindow: entropyWindow,
	}
}

// DefaultSchedulerConfig returns the engine's built-in scheduler defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return NewSchedulerConfig(float64(DefaultWBaseMS)/1000.0, DefaultTau, DefaultMaxBatch, DefaultAlpha, DefaultEntropyWindow)
}

// GPUConfig groups GPUBackend timing-model constants.
type GPUConfig struct {
	KVMax       int64   // KV-cache budget in tokens (default 32768)
	PrefillRate float64 // tokens/sec during prefill (default 1024)
	DecodeBase  float64 // base per-item decode rate, tokens/sec (default 128)
	CostPerHour float64 // USD/hour, used for cost_per_mtoken (default 3.00)
}

// NewGPUConfig creates a GPUConfig with all fields explicitly set.
// Canonical constructor — see TenantSpec's doc comment.
func NewGPUConfig(kvMax int64, prefillRate, decodeBase, costPerHour float64) GPUConfig {
	if kvMax <= 0 {
		panic("NewGPUConfig: kvMax must be > 0")
	}
	if prefillRate <= 0 || decodeBase <= 0 {
		panic("NewGPUConfig: prefillRate and decodeBase must be > 0")
	}
	return GPUConfig{KVMax: kvMax, PrefillRate: prefillRate, DecodeBase: decodeBase, CostPerHour: costPerHour}
}

// DefaultGPUConfig returns the engine's built-in GPU timing-model defaults.
func DefaultGPUConfig() GPUConfig {
	return NewGPUConfig(DefaultKVMax, DefaultPrefillRate, DefaultDecodeBase, DefaultA100CostPerHr)
}

// EngineConfig is the top-level configuration for NewEngine, grouping the
// three concern-specific configs above plus the initial tenant roster.
type EngineConfig struct {
	Scheduler SchedulerConfig
	GPU       GPUConfig
	Tenants   []TenantSpec
}

// NewEngineConfig creates an EngineConfig with all fields explicitly set.
// Canonical constructor — see TenantSpec's doc comment.
func NewEngineConfig(scheduler SchedulerConfig, gpu GPUConfig, tenants []TenantSpec) EngineConfig {
	return EngineConfig{Scheduler: scheduler, GPU: gpu, Tenants: tenants}
}

// DefaultEngineConfig returns an EngineConfig using the built-in defaults and
// no pre-registered tenants.
func DefaultEngineConfig() EngineConfig {
	return NewEngineConfig(DefaultSchedulerConfig(), DefaultGPUConfig(), nil)
}

// tenantManifestEntry mirrors one tenant's YAML fields in a policy
// manifest file.
type tenantManifestEntry struct {
	TenantID string  `yaml:"tenant_id"`
	Rate     float64 `yaml:"rate"`
	BurstCap float64 `yaml:"burst_cap"`
}

type tenantManifest struct {
	Tenants []tenantManifestEntry `yaml:"tenants"`
}

// LoadTenantManifest reads a YAML file describing tenant rate limits and
// returns the corresponding TenantSpecs. The expected shape is:
//
//	tenants:
//	  - tenant_id: tenant_a
//	    rate: 500
//	    burst_cap: 5000
//
func LoadTenantManifest(path string) ([]TenantSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadTenantManifest: %w", err)
	}

	var manifest tenantManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("LoadTenantManifest: parsing %s: %w", path, err)
	}

	specs := make([]TenantSpec, 0, len(manifest.Tenants))
	for _, t := range manifest.Tenants {
		specs = append(specs, NewTenantSpec(t.TenantID, t.Rate, t.BurstCap))
	}
	return specs, nil
}
