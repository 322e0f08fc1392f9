package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Instance 单条待预测记录，Values中数值特征为float64，类别特征为string，缺失为nil
type Instance struct {
	ID     string
	Values map[string]interface{}
}

// InferenceRequest 推理请求
type InferenceRequest struct {
	Instances []Instance
}

// FieldError 单个字段校验错误
type FieldError struct {
	Loc []string
	Msg string
}

func (fe FieldError) String() string {
	return strings.Join(fe.Loc, " -> ") + "\n  " + fe.Msg
}

// ValidationError 请求结构校验失败
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	noun := "errors"
	if len(e.Errors) == 1 {
		noun = "error"
	}
	lines := make([]string, 0, len(e.Errors)+1)
	lines = append(lines, fmt.Sprintf("%d validation %s for request", len(e.Errors), noun))
	for _, fe := range e.Errors {
		lines = append(lines, fe.String())
	}
	return strings.Join(lines, "\n")
}

func (e *ValidationError) add(msg string, loc ...string) {
	e.Errors = append(e.Errors, FieldError{Loc: append([]string{"body"}, loc...), Msg: msg})
}

type fieldRule struct {
	name     string
	kind     DataType
	nullable bool
}

// RequestModel 由数据模式静态生成的请求模型
type RequestModel struct {
	idField string
	rules   []fieldRule
}

// NewRequestModel 根据数据模式生成请求模型
func NewRequestModel(ds *DataSchema) *RequestModel {
	rules := make([]fieldRule, len(ds.Features))
	for i, f := range ds.Features {
		rules[i] = fieldRule{name: f.Name, kind: f.DataType, nullable: f.Nullable}
	}
	return &RequestModel{idField: ds.ID.Name, rules: rules}
}

// IDField 返回标识字段名
func (m *RequestModel) IDField() string {
	return m.idField
}

// RequiredFields 返回不可为空的字段（含标识字段）
func (m *RequestModel) RequiredFields() []string {
	fields := []string{m.idField}
	for _, rule := range m.rules {
		if !rule.nullable {
			fields = append(fields, rule.name)
		}
	}
	return fields
}

// Decode 解析请求体并按模式校验，失败时返回*ValidationError
func (m *RequestModel) Decode(r io.Reader) (*InferenceRequest, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		verr := &ValidationError{}
		verr.add("could not read request body: " + err.Error())
		return nil, verr
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		verr := &ValidationError{}
		verr.add("value is not a valid JSON object: " + err.Error())
		return nil, verr
	}

	raw, ok := envelope["instances"]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		verr := &ValidationError{}
		verr.add("field required", "instances")
		return nil, verr
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		verr := &ValidationError{}
		verr.add("value is not a valid list", "instances")
		return nil, verr
	}
	if len(items) == 0 {
		verr := &ValidationError{}
		verr.add("ensure this value has at least 1 items", "instances")
		return nil, verr
	}

	verr := &ValidationError{}
	req := &InferenceRequest{Instances: make([]Instance, 0, len(items))}
	for i, item := range items {
		inst, ok := m.decodeInstance(item, strconv.Itoa(i), verr)
		if ok {
			req.Instances = append(req.Instances, inst)
		}
	}
	if len(verr.Errors) > 0 {
		return nil, verr
	}
	return req, nil
}

func (m *RequestModel) decodeInstance(raw json.RawMessage, index string, verr *ValidationError) (Instance, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil || obj == nil {
		verr.add("value is not a valid dict", "instances", index)
		return Instance{}, false
	}

	before := len(verr.Errors)
	inst := Instance{Values: make(map[string]interface{}, len(m.rules))}

	switch id := obj[m.idField].(type) {
	case nil:
		verr.add("field required", "instances", index, m.idField)
	case string:
		inst.ID = id
	case json.Number:
		inst.ID = id.String()
	default:
		verr.add("str type expected", "instances", index, m.idField)
	}

	for _, rule := range m.rules {
		value, present := obj[rule.name]
		if !present || value == nil {
			if !rule.nullable {
				msg := "none is not an allowed value"
				if !present {
					msg = "field required"
				}
				verr.add(msg, "instances", index, rule.name)
				continue
			}
			inst.Values[rule.name] = nil
			continue
		}

		switch rule.kind {
		case Numeric:
			num, ok := value.(json.Number)
			if !ok {
				verr.add("value is not a valid float", "instances", index, rule.name)
				continue
			}
			f, err := num.Float64()
			if err != nil {
				verr.add("value is not a valid float", "instances", index, rule.name)
				continue
			}
			inst.Values[rule.name] = f
		case Categorical:
			switch v := value.(type) {
			case string:
				inst.Values[rule.name] = v
			case json.Number:
				inst.Values[rule.name] = v.String()
			default:
				verr.add("str type expected", "instances", index, rule.name)
			}
		}
	}
	return inst, len(verr.Errors) == before
}
