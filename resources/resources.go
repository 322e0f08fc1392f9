// Package resources 启动时加载的只读模型资源
package resources

import (
	"os"

	"github.com/pkg/errors"

	"inferserve/config"
	"inferserve/explain"
	"inferserve/ml"
	"inferserve/schema"
)

// Bundle 模型资源包，加载后不可变，所有请求共享
type Bundle struct {
	Schema       *schema.DataSchema
	Preprocessor *ml.Preprocessor
	Predictor    ml.Classifier
	Explainer    explain.Explainer
	RequestModel *schema.RequestModel
}

// widther 报告解释器背景样本的列数
type widther interface {
	Width() int
}

// Load 加载全部资源，任何失败都应终止进程
func Load(cfg config.ModelConfig, workers int) (*Bundle, error) {
	ds, err := schema.Load(cfg.SchemaPath())
	if err != nil {
		return nil, errors.Wrap(err, "load schema")
	}

	pre, err := loadPreprocessor(cfg.PreprocessorPath())
	if err != nil {
		return nil, errors.Wrap(err, "load preprocessor")
	}

	predictor, err := ml.LoadModel(cfg.ModelPath())
	if err != nil {
		return nil, errors.Wrap(err, "load predictor")
	}

	explainer, err := explain.Load(cfg.ExplainerPath(), workers)
	if err != nil {
		return nil, errors.Wrap(err, "load explainer")
	}

	b := &Bundle{
		Schema:       ds,
		Preprocessor: pre,
		Predictor:    predictor,
		Explainer:    explainer,
		RequestModel: schema.NewRequestModel(ds),
	}
	if err := b.Check(); err != nil {
		return nil, err
	}
	return b, nil
}

// loadPreprocessor 预处理参数可选，未配置或文件不存在时返回nil
func loadPreprocessor(path string) (*ml.Preprocessor, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return ml.LoadPreprocessor(path)
}

// Check 校验各资源之间的一致性
func (b *Bundle) Check() error {
	features := b.Schema.FeatureNames()
	modelFeatures := b.Predictor.Features()
	if len(features) != len(modelFeatures) {
		return errors.Errorf("predictor expects %d features, schema declares %d", len(modelFeatures), len(features))
	}
	for i := range features {
		if features[i] != modelFeatures[i] {
			return errors.Errorf("feature %d: predictor expects %q, schema declares %q", i, modelFeatures[i], features[i])
		}
	}

	classes := b.Schema.TargetClasses()
	modelClasses := b.Predictor.Classes()
	if len(classes) != len(modelClasses) {
		return errors.Errorf("predictor has %d classes, schema declares %d", len(modelClasses), len(classes))
	}
	known := make(map[string]bool, len(modelClasses))
	for _, c := range modelClasses {
		known[c] = true
	}
	for _, c := range classes {
		if !known[c] {
			return errors.Errorf("target class %q unknown to predictor", c)
		}
	}

	if w, ok := b.Explainer.(widther); ok && w.Width() != len(features) {
		return errors.Errorf("explainer background has %d columns, schema declares %d features", w.Width(), len(features))
	}
	return nil
}
