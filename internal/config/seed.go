package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Seed is the bootstrap data for projects and their threshold matrix.
//
//	projects:
//	  - id: "1"
//	    name: Plant expansion
//	bands:
//	  - project_id: "1"
//	    approval_level: 1
//	    threshold_min: 0
//	    threshold_max: 5000
//	    approver_role: procurement
type Seed struct {
	Projects []SeedProject `yaml:"projects"`
	Bands    []SeedBand    `yaml:"bands"`
}

// SeedProject is one project entry in the seed file
type SeedProject struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Inactive bool   `yaml:"inactive"`
}

// SeedBand is one threshold band entry in the seed file. Amounts are kept as
// strings so no precision is lost before decimal parsing.
type SeedBand struct {
	ProjectID     string `yaml:"project_id"`
	ApprovalLevel int    `yaml:"approval_level"`
	ThresholdMin  string `yaml:"threshold_min"`
	ThresholdMax  string `yaml:"threshold_max"`
	ApproverRole  string `yaml:"approver_role"`
	Inactive      bool   `yaml:"inactive"`
}

// Min parses the lower bound
func (b SeedBand) Min() (decimal.Decimal, error) {
	return decimal.NewFromString(b.ThresholdMin)
}

// Max parses the upper bound
func (b SeedBand) Max() (decimal.Decimal, error) {
	return decimal.NewFromString(b.ThresholdMax)
}

// LoadSeed reads and parses a YAML seed file
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed parses YAML seed data and validates band amounts
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}

	for i, b := range seed.Bands {
		if _, err := b.Min(); err != nil {
			return nil, fmt.Errorf("bands[%d].threshold_min: %w", i, err)
		}
		if _, err := b.Max(); err != nil {
			return nil, fmt.Errorf("bands[%d].threshold_max: %w", i, err)
		}
	}
	return &seed, nil
}
