package pipeline

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/unicode/norm"

	"inferserve/ml"
	"inferserve/schema"
)

// MissingCategory 无法填充的缺失类别编码
const MissingCategory = -1

// FeatureEncoder 单特征编码规则
type FeatureEncoder interface {
	Name() string
	Encode(value interface{}) (float64, error)
}

// numericEncoder 数值特征：缺失值填充后按预处理统计缩放
type numericEncoder struct {
	name string
	pre  *ml.Preprocessor
}

func (e *numericEncoder) Name() string { return e.name }

func (e *numericEncoder) Encode(value interface{}) (float64, error) {
	switch v := value.(type) {
	case nil:
		return e.pre.TransformNumeric(e.name, nil), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("feature %s: value %v is not finite", e.name, v)
		}
		return e.pre.TransformNumeric(e.name, &v), nil
	default:
		return 0, fmt.Errorf("feature %s: unexpected numeric value of type %T", e.name, value)
	}
}

// categoricalEncoder 类别特征：编码为模式中类别列表的下标
type categoricalEncoder struct {
	name  string
	index map[string]int
	fill  float64
}

func newCategoricalEncoder(f schema.Feature, pre *ml.Preprocessor) *categoricalEncoder {
	e := &categoricalEncoder{
		name:  f.Name,
		index: make(map[string]int, len(f.Categories)),
		fill:  MissingCategory,
	}
	for i, c := range f.Categories {
		key := normalizeCategory(c)
		if _, dup := e.index[key]; !dup {
			e.index[key] = i
		}
	}
	if stats, ok := pre.CategoricalStat(f.Name); ok {
		if i, ok := e.index[normalizeCategory(stats.Fill)]; ok {
			e.fill = float64(i)
		}
	}
	return e
}

func (e *categoricalEncoder) Name() string { return e.name }

func (e *categoricalEncoder) Encode(value interface{}) (float64, error) {
	switch v := value.(type) {
	case nil:
		return e.fill, nil
	case string:
		i, ok := e.index[normalizeCategory(v)]
		if !ok {
			return 0, fmt.Errorf("feature %s: unknown category %q", e.name, v)
		}
		return float64(i), nil
	default:
		return 0, fmt.Errorf("feature %s: unexpected categorical value of type %T", e.name, value)
	}
}

func normalizeCategory(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Transformer 按数据模式把请求实例转换为特征矩阵
type Transformer struct {
	columns  []string
	classes  []string
	encoders []FeatureEncoder
}

// NewTransformer 创建转换器，pre可为nil
func NewTransformer(ds *schema.DataSchema, pre *ml.Preprocessor) *Transformer {
	t := &Transformer{
		columns:  ds.FeatureNames(),
		classes:  ds.TargetClasses(),
		encoders: make([]FeatureEncoder, 0, len(ds.Features)),
	}
	for _, f := range ds.Features {
		if f.DataType == schema.Categorical {
			t.encoders = append(t.encoders, newCategoricalEncoder(f, pre))
			continue
		}
		t.encoders = append(t.encoders, &numericEncoder{name: f.Name, pre: pre})
	}
	return t
}

// Columns 特征列名（模式声明顺序）
func (t *Transformer) Columns() []string {
	return append([]string(nil), t.columns...)
}

// EncodeInstance 编码单个实例
func (t *Transformer) EncodeInstance(inst schema.Instance) ([]float64, error) {
	row := make([]float64, len(t.encoders))
	for j, enc := range t.encoders {
		value, present := inst.Values[enc.Name()]
		if !present {
			return nil, fmt.Errorf("feature %s missing from instance %q", enc.Name(), inst.ID)
		}
		v, err := enc.Encode(value)
		if err != nil {
			return nil, err
		}
		row[j] = v
	}
	return row, nil
}

// Transform 转换请求，同时返回预填充的部分响应
func (t *Transformer) Transform(rc *RequestContext, req *schema.InferenceRequest) (*TransformedFeatures, *PredictionsResponse, error) {
	if req == nil || len(req.Instances) == 0 {
		return nil, nil, &TransformError{RequestID: rc.RequestID, Err: fmt.Errorf("no instances to transform")}
	}

	tf := &TransformedFeatures{
		IDs:     make([]string, len(req.Instances)),
		Columns: t.Columns(),
		Rows:    make([][]float64, len(req.Instances)),
	}
	for i, inst := range req.Instances {
		row, err := t.EncodeInstance(inst)
		if err != nil {
			return nil, nil, &TransformError{RequestID: rc.RequestID, Err: fmt.Errorf("instance %d: %w", i, err)}
		}
		tf.IDs[i] = inst.ID
		tf.Rows[i] = row
	}

	partial := &PredictionsResponse{
		Status:        StatusSuccess,
		Message:       "",
		Timestamp:     rc.Timestamp(),
		RequestID:     rc.RequestID,
		TargetClasses: append([]string(nil), t.classes...),
	}
	return tf, partial, nil
}
