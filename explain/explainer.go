// Package explain 计算黑盒分类器的逐样本特征归因。
// 归因为类别概率相对背景样本的Shapley值：每个类别的基线加各特征得分之和等于该行的预测概率。
package explain

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// MethodShap Shapley归因对外报告的解释方法名
const MethodShap = "Shap"

// maxFeatures 联盟位掩码的上限
const maxFeatures = 63

// PredictFunc 按调用方类别顺序返回每行的类别概率，可能被并发调用
type PredictFunc func(rows [][]float64) ([][]float64, error)

// Attribution 单行的解释
type Attribution struct {
	// 背景样本上各类别的期望概率
	Baseline []float64
	// 得分，下标为[类别][特征]
	Values [][]float64
}

// Explainer 按输入顺序为每行生成一个Attribution
type Explainer interface {
	Method() string
	Explain(ctx context.Context, rows [][]float64, predict PredictFunc, classNames []string) ([]Attribution, error)
}

// Settings 持久化的解释器参数
type Settings struct {
	Method           string      `json:"method"`
	MaxExactFeatures int         `json:"max_exact_features"`
	Permutations     int         `json:"permutations"`
	Seed             int64       `json:"seed"`
	CacheSize        int         `json:"cache_size"`
	Background       [][]float64 `json:"background"`
}

func DefaultSettings() Settings {
	return Settings{
		Method:           MethodShap,
		MaxExactFeatures: 10,
		Permutations:     64,
		Seed:             42,
		CacheSize:        4096,
	}
}

func (s Settings) validate() error {
	if s.Method != MethodShap {
		return fmt.Errorf("unsupported explanation method %q", s.Method)
	}
	if len(s.Background) == 0 {
		return errors.New("explainer background sample is empty")
	}
	width := len(s.Background[0])
	if width == 0 || width > maxFeatures {
		return fmt.Errorf("explainer background has %d columns, supported range is 1..%d", width, maxFeatures)
	}
	for i, row := range s.Background {
		if len(row) != width {
			return fmt.Errorf("background row %d has %d columns, expected %d", i, len(row), width)
		}
	}
	if s.Permutations <= 0 {
		return errors.New("permutations must be positive")
	}
	if s.MaxExactFeatures < 0 || s.MaxExactFeatures > 16 {
		return errors.New("max_exact_features must be within 0..16")
	}
	return nil
}

// Load 读取解释器参数并构建Shapley解释器
func Load(path string, workers int) (*Shapley, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read explainer")
	}
	settings := DefaultSettings()
	if err := json.Unmarshal(payload, &settings); err != nil {
		return nil, errors.Wrap(err, "decode explainer")
	}
	return NewShapley(settings, workers)
}

// Save 写出解释器参数
func (s Settings) Save(path string) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}
