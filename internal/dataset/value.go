package dataset

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Value 是查找到的叶子值，保留 JSON 中的原始数字文本。
type Value struct {
	raw any
}

// String 渲染值；数字保持原始写法。
func (v Value) String() string {
	switch raw := v.raw.(type) {
	case nil:
		return Placeholder
	case string:
		return raw
	case json.Number:
		return raw.String()
	case bool:
		return strconv.FormatBool(raw)
	default:
		data, err := json.Marshal(raw)
		if err != nil {
			return fmt.Sprint(raw)
		}
		return string(data)
	}
}

// Float64 在值为数字（或数字字符串）时返回其浮点值。
func (v Value) Float64() (float64, bool) {
	switch raw := v.raw.(type) {
	case json.Number:
		f, err := raw.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(raw, 64)
		return f, err == nil
	}
	return 0, false
}

// MarshalJSON 输出原始值。
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.raw)
}
