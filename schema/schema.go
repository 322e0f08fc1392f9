// Package schema 数据模式定义与请求模型
package schema

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// DataType 特征数据类型
type DataType string

const (
	Numeric     DataType = "NUMERIC"
	Categorical DataType = "CATEGORICAL"
)

// Field 标识字段/目标字段
type Field struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Target 预测目标
type Target struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Classes     []string `json:"classes"`
}

// Feature 输入特征
type Feature struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	DataType    DataType    `json:"dataType"`
	Example     interface{} `json:"example,omitempty"`
	Categories  []string    `json:"categories,omitempty"`
	Nullable    bool        `json:"nullable"`
}

// DataSchema 数据模式：特征名称、类型与目标类别
type DataSchema struct {
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	ModelCategory   string    `json:"modelCategory"`
	SchemaVersion   float64   `json:"schemaVersion"`
	InputDataFormat string    `json:"inputDataFormat"`
	Encoding        string    `json:"encoding"`
	ID              Field     `json:"id"`
	Target          Target    `json:"target"`
	Features        []Feature `json:"features"`
}

// Load 从JSON文件加载数据模式
func Load(path string) (*DataSchema, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read schema")
	}
	return Parse(payload)
}

// Parse 解析并校验数据模式
func Parse(payload []byte) (*DataSchema, error) {
	var ds DataSchema
	if err := json.Unmarshal(payload, &ds); err != nil {
		return nil, errors.Wrap(err, "decode schema")
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// Validate 校验模式完整性
func (ds *DataSchema) Validate() error {
	if ds.ID.Name == "" {
		return errors.New("schema: id field name is required")
	}
	if ds.Target.Name == "" {
		return errors.New("schema: target name is required")
	}
	if len(ds.Target.Classes) < 2 {
		return fmt.Errorf("schema: target needs at least 2 classes, got %d", len(ds.Target.Classes))
	}
	classes := make(map[string]struct{}, len(ds.Target.Classes))
	for _, class := range ds.Target.Classes {
		if _, dup := classes[class]; dup {
			return fmt.Errorf("schema: duplicate target class %q", class)
		}
		classes[class] = struct{}{}
	}
	if len(ds.Features) == 0 {
		return errors.New("schema: at least one feature is required")
	}

	seen := make(map[string]struct{}, len(ds.Features))
	for _, f := range ds.Features {
		if f.Name == "" {
			return errors.New("schema: feature name is required")
		}
		if f.Name == ds.ID.Name {
			return fmt.Errorf("schema: feature %q collides with the id field", f.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("schema: duplicate feature %q", f.Name)
		}
		seen[f.Name] = struct{}{}

		switch f.DataType {
		case Numeric:
		case Categorical:
			if len(f.Categories) == 0 {
				return fmt.Errorf("schema: categorical feature %q declares no categories", f.Name)
			}
		default:
			return fmt.Errorf("schema: feature %q has unsupported data type %q", f.Name, f.DataType)
		}
	}
	return nil
}

// FeatureNames 按声明顺序返回特征名称
func (ds *DataSchema) FeatureNames() []string {
	names := make([]string, len(ds.Features))
	for i, f := range ds.Features {
		names[i] = f.Name
	}
	return names
}

// TargetClasses 返回目标类别副本
func (ds *DataSchema) TargetClasses() []string {
	return append([]string(nil), ds.Target.Classes...)
}
