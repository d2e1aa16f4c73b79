package validate

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/fin-ingest/internal/model"
)

const trillion = 1_000_000_000_000

// RangeRule is an inclusive band of plausible values in USD.
type RangeRule struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// RangeRules maps metric types to their bands.
type RangeRules map[model.MetricType]RangeRule

// DefaultRanges returns the built-in bands. Costs and revenue may not go
// negative; profit lines may.
func DefaultRanges() RangeRules {
	return RangeRules{
		model.MetricRevenue:           {Min: 0, Max: trillion},
		model.MetricCOGS:              {Min: 0, Max: trillion},
		model.MetricGrossProfit:       {Min: -trillion, Max: trillion},
		model.MetricOperatingExpenses: {Min: 0, Max: trillion},
		model.MetricOperatingIncome:   {Min: -trillion, Max: trillion},
		model.MetricEBITDA:            {Min: -trillion, Max: trillion},
		model.MetricNetIncome:         {Min: -trillion, Max: trillion},
	}
}

// LoadRangeRules reads band overrides from a YAML file shaped like
//
//	ranges:
//	  revenue: {min: 0, max: 5000000000}
//
// Types not named in the file keep their default band.
func LoadRangeRules(path string) (RangeRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "validate: read range rules %s", path)
	}

	var wrapper struct {
		Ranges map[string]RangeRule `yaml:"ranges"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "validate: parse range rules")
	}

	rules := DefaultRanges()
	for key, rule := range wrapper.Ranges {
		mt, err := model.ParseMetricType(key)
		if err != nil {
			return nil, eris.Wrapf(err, "validate: range rule %q", key)
		}
		if rule.Min > rule.Max {
			return nil, eris.Errorf("validate: range rule %q has min %v above max %v", key, rule.Min, rule.Max)
		}
		rules[mt] = rule
	}
	return rules, nil
}
