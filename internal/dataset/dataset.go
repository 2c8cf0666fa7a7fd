// Package dataset 解析数据文档并提供页面侧的查值与矩阵。worker 只把数据文档当作
// 不透明字节缓存，这里才按 product -> application -> pressure -> gap 结构读取。
package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Placeholder 是缺失值在矩阵中的显示内容。
const Placeholder = "—"

// PrimaryKey 是单数据集文档映射到的数据集键。
const PrimaryKey = "primary"

// ErrNoProducts 表示文档中没有任何数据集。
var ErrNoProducts = errors.New("dataset document has no products")

// Document 是一份数据文档，可能包含一个或多个数据集。
type Document struct {
	datasets map[string]*Dataset
}

// Dataset 是一组产品记录。
type Dataset struct {
	Label    string
	products []product
}

type product struct {
	name   string
	fields map[string]any
}

type rawDataset struct {
	Label    string            `json:"label"`
	Products []json.RawMessage `json:"products"`
}

// Parse 支持两种形态：
//
//	{"products": [...]}
//	{"datasets": {"primary": {"label": "...", "products": [...]}, "secondary": {...}}}
func Parse(data []byte) (*Document, error) {
	var top map[string]json.RawMessage
	if err := decode(data, &top); err != nil {
		return nil, fmt.Errorf("decode dataset document: %w", err)
	}

	doc := &Document{datasets: make(map[string]*Dataset)}
	if raw, ok := top["datasets"]; ok {
		var sets map[string]rawDataset
		if err := decode(raw, &sets); err != nil {
			return nil, fmt.Errorf("decode datasets: %w", err)
		}
		for key, set := range sets {
			ds, err := buildDataset(set)
			if err != nil {
				return nil, fmt.Errorf("dataset %s: %w", key, err)
			}
			doc.datasets[key] = ds
		}
	} else if raw, ok := top["products"]; ok {
		var set rawDataset
		if err := decode(raw, &set.Products); err != nil {
			return nil, fmt.Errorf("decode products: %w", err)
		}
		ds, err := buildDataset(set)
		if err != nil {
			return nil, err
		}
		doc.datasets[PrimaryKey] = ds
	}

	if len(doc.datasets) == 0 {
		return nil, ErrNoProducts
	}
	return doc, nil
}

func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func buildDataset(set rawDataset) (*Dataset, error) {
	ds := &Dataset{Label: set.Label}
	for i, raw := range set.Products {
		var fields map[string]any
		if err := decode(raw, &fields); err != nil {
			return nil, fmt.Errorf("product %d: %w", i, err)
		}
		name, _ := fields["name"].(string)
		if strings.TrimSpace(name) == "" {
			continue
		}
		ds.products = append(ds.products, product{name: name, fields: fields})
	}
	return ds, nil
}

// Keys 返回数据集键，primary 在前，其余按名称排序。
func (d *Document) Keys() []string {
	keys := make([]string, 0, len(d.datasets))
	for key := range d.datasets {
		if key != PrimaryKey {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if _, ok := d.datasets[PrimaryKey]; ok {
		keys = append([]string{PrimaryKey}, keys...)
	}
	return keys
}

// Dataset 返回指定键的数据集。
func (d *Document) Dataset(key string) (*Dataset, bool) {
	ds, ok := d.datasets[key]
	return ds, ok
}

// Primary 返回主数据集；没有 primary 时返回第一个键对应的数据集。
func (d *Document) Primary() *Dataset {
	keys := d.Keys()
	if len(keys) == 0 {
		return nil
	}
	return d.datasets[keys[0]]
}

// ProductNames 按文档顺序返回产品名称。
func (ds *Dataset) ProductNames() []string {
	names := make([]string, len(ds.products))
	for i, p := range ds.products {
		names[i] = p.name
	}
	return names
}

// Value 沿嵌套对象逐级查找；产品或任一层缺失、值为 null 或空串都返回 false，从不报错。
func (ds *Dataset) Value(productName string, path ...string) (Value, bool) {
	var current any
	found := false
	for _, p := range ds.products {
		if p.name == productName {
			current = p.fields
			found = true
			break
		}
	}
	if !found {
		return Value{}, false
	}
	for _, segment := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return Value{}, false
		}
		current, ok = obj[segment]
		if !ok {
			return Value{}, false
		}
	}
	switch v := current.(type) {
	case nil:
		return Value{}, false
	case string:
		if v == "" {
			return Value{}, false
		}
	}
	return Value{raw: current}, true
}

// Setting 查找 application -> pressure -> gap 的设定值。
func (ds *Dataset) Setting(productName, application, pressure, gap string) (Value, bool) {
	return ds.Value(productName, application, pressure, gap)
}

// Dilution 查找 dilution -> pressure 的设定值。
func (ds *Dataset) Dilution(productName, dilution, pressure string) (Value, bool) {
	return ds.Value(productName, "dilution", dilution, pressure)
}
