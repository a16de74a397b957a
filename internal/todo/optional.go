package todo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

var jsonNull = []byte("null")

// Optional 区分 PATCH 请求中“未提供”“显式置空”和“给定值”三种状态。
type Optional[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// Some 构造一个已赋值的 Optional。
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: v}
}

// Null 构造一个显式置空的 Optional。
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true, Null: true}
}

// IsZero 配合 omitzero 在序列化时省略未设置的字段。
func (o Optional[T]) IsZero() bool { return !o.Set }

// UnmarshalJSON 实现 json.Unmarshaler。
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		o.Null = true
		var zero T
		o.Value = zero
		return nil
	}
	o.Null = false
	return json.Unmarshal(data, &o.Value)
}

// MarshalJSON 实现 json.Marshaler。
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set || o.Null {
		return jsonNull, nil
	}
	return json.Marshal(o.Value)
}

// Millis 是毫秒时间戳，反序列化时同时接受数字和 ISO-8601 字符串。
type Millis int64

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseMillis 解析数字或 ISO-8601 字符串形式的时间。
func ParseMillis(raw string) (Millis, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	if v, err := json.Number(raw).Int64(); err == nil {
		return Millis(v), nil
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return Millis(t.UnixMilli()), nil
		}
	}
	return 0, fmt.Errorf("invalid timestamp %q", raw)
}

// UnmarshalJSON 实现 json.Unmarshaler。
func (m *Millis) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := ParseMillis(s)
		if err != nil {
			return err
		}
		*m = v
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid timestamp %s", data)
	}
	if v, err := n.Int64(); err == nil {
		*m = Millis(v)
		return nil
	}
	// 1e3 这类科学计数法只要是整数且不越界仍然接受。
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return validationError("due_date", "due_date must be an integer timestamp in milliseconds")
	}
	*m = Millis(int64(f))
	return nil
}

// Time 转换为 UTC 时间。
func (m Millis) Time() time.Time { return time.UnixMilli(int64(m)).UTC() }

// Ptr 返回 int64 指针，便于赋值到 Todo.DueDate。
func (m Millis) Ptr() *int64 {
	v := int64(m)
	return &v
}
