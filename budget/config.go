package budget

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk budget policy:
//
//	[limits]
//	cpu_insns = 100000000
//	mem_bytes = 41943040
//
//	[cpu.MemCpy]
//	const = 16
//	linear = 16
//
//	[mem.MemAlloc]
//	const = 16
//	linear = 128
//
// Cost types not mentioned keep their defaults.
type Config struct {
	Limits Limits               `toml:"limits"`
	CPU    map[string]CostModel `toml:"cpu"`
	Mem    map[string]CostModel `toml:"mem"`
}

// LoadConfig reads a TOML budget policy from path.
func LoadConfig(path string) (Limits, CostParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Limits{}, CostParams{}, fmt.Errorf("read budget config: %w", err)
	}
	return ParseConfig(string(data))
}

func ParseConfig(data string) (Limits, CostParams, error) {
	cfg := Config{Limits: DefaultLimits()}
	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return Limits{}, CostParams{}, fmt.Errorf("decode budget config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Limits{}, CostParams{}, fmt.Errorf("unknown budget config keys: %v", undecoded)
	}
	params := DefaultCostParams()
	for name, m := range cfg.CPU {
		ty, err := ParseCostType(name)
		if err != nil {
			return Limits{}, CostParams{}, err
		}
		params.CPU[ty] = m
	}
	for name, m := range cfg.Mem {
		ty, err := ParseCostType(name)
		if err != nil {
			return Limits{}, CostParams{}, err
		}
		params.Mem[ty] = m
	}
	return cfg.Limits, params, nil
}
