package credit

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"dework/crypto"
)

// StaticFile is the YAML layout of a static recommendation table:
//
//	default: 50
//	tenants:
//	  0xabc...: 80
type StaticFile struct {
	Default int            `yaml:"default"`
	Tenants map[string]int `yaml:"tenants"`
}

// StaticOracle serves recommendations from a fixed table.
type StaticOracle struct {
	def     uint8
	tenants map[crypto.Address]uint8
}

// LoadStatic reads a StaticFile from disk.
func LoadStatic(path string) (*StaticOracle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credit: read %s: %w", path, err)
	}
	return ParseStatic(raw)
}

// ParseStatic decodes and validates a StaticFile.
func ParseStatic(raw []byte) (*StaticOracle, error) {
	var file StaticFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("credit: decode: %w", err)
	}
	def, err := checkRange(file.Default)
	if err != nil {
		return nil, fmt.Errorf("default: %w", err)
	}
	oracle := &StaticOracle{def: def, tenants: make(map[crypto.Address]uint8, len(file.Tenants))}
	for key, value := range file.Tenants {
		addr, err := crypto.ParseAddress(key)
		if err != nil {
			return nil, fmt.Errorf("credit: tenant %q: %w", key, err)
		}
		pct, err := checkRange(value)
		if err != nil {
			return nil, fmt.Errorf("tenant %s: %w", key, err)
		}
		oracle.tenants[addr] = pct
	}
	return oracle, nil
}

// InterestSharingPercentage returns the tenant entry or the default.
func (s *StaticOracle) InterestSharingPercentage(_ context.Context, addr crypto.Address) (uint8, error) {
	if pct, ok := s.tenants[addr]; ok {
		return pct, nil
	}
	return s.def, nil
}
