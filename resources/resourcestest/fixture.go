// Package resourcestest 提供测试用的小型模型资源
package resourcestest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"inferserve/config"
	"inferserve/explain"
	"inferserve/ml"
	"inferserve/resources"
	"inferserve/schema"
)

// SchemaJSON 测试数据模式：score决定类别，age与color为噪声特征
const SchemaJSON = `{
  "title": "Fixture",
  "description": "Synthetic binary classification data",
  "modelCategory": "binary_classification",
  "schemaVersion": 1.0,
  "inputDataFormat": "CSV",
  "encoding": "utf-8",
  "id": {"name": "id", "description": "Sample identifier"},
  "target": {"name": "label", "description": "Whether the sample is positive", "classes": ["no", "yes"]},
  "features": [
    {"name": "age", "description": "Age", "dataType": "NUMERIC", "example": 30, "nullable": true},
    {"name": "color", "description": "Colour", "dataType": "CATEGORICAL", "categories": ["red", "green", "blue"], "nullable": true},
    {"name": "score", "description": "Score", "dataType": "NUMERIC", "example": 0.5, "nullable": false}
  ]
}`

type sample struct {
	age   float64
	color string
	score float64
	label string
}

var samples = []sample{
	{25, "red", 0.1, "no"},
	{60, "green", 0.2, "no"},
	{35, "red", 0.3, "no"},
	{40, "blue", 0.7, "yes"},
	{30, "blue", 0.8, "yes"},
	{50, "green", 0.9, "yes"},
}

// modelClasses 模型类别顺序与模式相反，用于覆盖类别对齐
var modelClasses = []string{"yes", "no"}

// Schema 解析后的测试数据模式
func Schema(t testing.TB) *schema.DataSchema {
	t.Helper()
	ds, err := schema.Parse([]byte(SchemaJSON))
	if err != nil {
		t.Fatalf("parse fixture schema: %v", err)
	}
	return ds
}

// Preprocessor 由样本计算的预处理统计
func Preprocessor(t testing.TB) *ml.Preprocessor {
	t.Helper()
	pre := ml.NewPreprocessor(true)
	ages := make([]float64, len(samples))
	scores := make([]float64, len(samples))
	colors := make([]string, len(samples))
	for i, s := range samples {
		ages[i], scores[i], colors[i] = s.age, s.score, s.color
	}
	for name, values := range map[string][]float64{"age": ages, "score": scores} {
		if err := pre.ComputeNumeric(name, values); err != nil {
			t.Fatalf("compute %s: %v", name, err)
		}
	}
	if err := pre.ComputeCategorical("color", colors); err != nil {
		t.Fatalf("compute color: %v", err)
	}
	return pre
}

// Encoded 样本在模型空间中的特征矩阵与模型类别下标
func Encoded(t testing.TB) ([][]float64, []int) {
	t.Helper()
	pre := Preprocessor(t)
	colorIndex := map[string]float64{"red": 0, "green": 1, "blue": 2}
	labelIndex := map[string]int{"yes": 0, "no": 1}

	rows := make([][]float64, len(samples))
	labels := make([]int, len(samples))
	for i, s := range samples {
		age, score := s.age, s.score
		rows[i] = []float64{
			pre.TransformNumeric("age", &age),
			colorIndex[s.color],
			pre.TransformNumeric("score", &score),
		}
		labels[i] = labelIndex[s.label]
	}
	return rows, labels
}

// Write 把全部资源文件写入dir并返回对应的模型配置
func Write(t testing.TB, dir string) config.ModelConfig {
	t.Helper()
	cfg := config.Default().Model
	cfg.Dir = dir

	if err := os.WriteFile(cfg.SchemaPath(), []byte(SchemaJSON), 0o600); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	if err := Preprocessor(t).Save(cfg.PreprocessorPath()); err != nil {
		t.Fatalf("write preprocessor: %v", err)
	}

	rows, labels := Encoded(t)
	tree := ml.NewDecisionTree(modelClasses, Schema(t).FeatureNames(), 3)
	if err := tree.Train(rows, labels); err != nil {
		t.Fatalf("train fixture tree: %v", err)
	}
	if err := tree.Save(cfg.ModelPath()); err != nil {
		t.Fatalf("write model: %v", err)
	}

	settings := explain.DefaultSettings()
	settings.Background = rows
	if err := settings.Save(cfg.ExplainerPath()); err != nil {
		t.Fatalf("write explainer: %v", err)
	}
	return cfg
}

// Bundle 在临时目录写入并加载资源
func Bundle(t testing.TB) *resources.Bundle {
	t.Helper()
	cfg := Write(t, t.TempDir())
	b, err := resources.Load(cfg, 2)
	if err != nil {
		t.Fatalf("load fixture bundle: %v", err)
	}
	return b
}

// Request 构造请求体
func Request(t testing.TB, instances ...map[string]interface{}) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{"instances": instances})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return payload
}

// Path 资源目录中的文件路径
func Path(cfg config.ModelConfig, name string) string {
	return filepath.Join(cfg.Dir, name)
}
