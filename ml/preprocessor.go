package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	pkgerrors "github.com/pkg/errors"
)

type NumericStats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Fill float64 `json:"fill"`
}

type CategoricalStats struct {
	Fill string `json:"fill"`
}

type Preprocessor struct {
	Scale       bool                        `json:"scale"`
	Numeric     map[string]NumericStats     `json:"numeric"`
	Categorical map[string]CategoricalStats `json:"categorical"`
}

func NewPreprocessor(scale bool) *Preprocessor {
	return &Preprocessor{
		Scale:       scale,
		Numeric:     make(map[string]NumericStats),
		Categorical: make(map[string]CategoricalStats),
	}
}

// ComputeNumeric 由非缺失观测值记录最小值、最大值及中位数填充值
func (p *Preprocessor) ComputeNumeric(name string, values []float64) error {
	if len(values) == 0 {
		return fmt.Errorf("no observed values for %s", name)
	}
	stats := NumericStats{Min: values[0], Max: values[0], Fill: Median(values)}
	for _, v := range values[1:] {
		if v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}
	}
	p.Numeric[name] = stats
	return nil
}

func (p *Preprocessor) ComputeCategorical(name string, values []string) error {
	if len(values) == 0 {
		return fmt.Errorf("no observed values for %s", name)
	}
	p.Categorical[name] = CategoricalStats{Fill: Mode(values)}
	return nil
}

func (p *Preprocessor) NumericStat(name string) (NumericStats, bool) {
	if p == nil {
		return NumericStats{}, false
	}
	stats, ok := p.Numeric[name]
	return stats, ok
}

func (p *Preprocessor) CategoricalStat(name string) (CategoricalStats, bool) {
	if p == nil {
		return CategoricalStats{}, false
	}
	stats, ok := p.Categorical[name]
	return stats, ok
}

// TransformNumeric 填充缺失值，启用缩放时做归一化
func (p *Preprocessor) TransformNumeric(name string, value *float64) float64 {
	stats, ok := p.NumericStat(name)
	v := 0.0
	switch {
	case value != nil:
		v = *value
	case ok:
		v = stats.Fill
	}
	if ok && p.Scale {
		return NormalizeFeature(v, stats.Min, stats.Max)
	}
	return v
}

// FeatureStats 数值特征的[最小值, 最大值]
func (p *Preprocessor) FeatureStats() map[string][2]float64 {
	if p == nil || len(p.Numeric) == 0 {
		return nil
	}
	keys := make([]string, 0, len(p.Numeric))
	for key := range p.Numeric {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make(map[string][2]float64, len(keys))
	for _, key := range keys {
		out[key] = [2]float64{p.Numeric[key].Min, p.Numeric[key].Max}
	}
	return out
}

func (p *Preprocessor) Save(path string) error {
	payload, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

func LoadPreprocessor(path string) (*Preprocessor, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "read preprocessor")
	}
	p := NewPreprocessor(false)
	if err := json.Unmarshal(payload, p); err != nil {
		return nil, pkgerrors.Wrap(err, "decode preprocessor")
	}
	for name, stats := range p.Numeric {
		if stats.Max < stats.Min {
			return nil, errors.New("preprocessor: max below min for " + name)
		}
	}
	return p, nil
}
