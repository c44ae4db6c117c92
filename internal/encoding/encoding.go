// Package encoding 指标快照的输出编码: JSON, Prometheus 文本暴露格式, 扁平 key=value 文本
package encoding

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/catstream/edge-metrics-go/internal/pkg/apperr"
	"github.com/prometheus/common/expfmt"
	"github.com/tidwall/gjson"
)

// Format 输出格式
type Format string

const (
	FormatJSON       Format = "json"
	FormatPrometheus Format = "prometheus"
	FormatText       Format = "text"
)

// ParseFormat 空值按 JSON 处理
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(raw)) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatPrometheus:
		return FormatPrometheus, nil
	case FormatText:
		return FormatText, nil
	default:
		return "", apperr.Invalid("unsupported format %q", raw)
	}
}

// ContentType 格式对应的 Content-Type
func (f Format) ContentType() string {
	switch f {
	case FormatPrometheus:
		return string(expfmt.FmtText)
	case FormatText:
		return "text/plain; charset=utf-8"
	default:
		return "application/json; charset=utf-8"
	}
}

// Flat 把任意可 JSON 序列化的值展开为按键排序的 key=value 行
//
// 嵌套对象用 "." 连接, 数组元素使用下标.
func Flat(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode flat: %w", err)
	}

	lines := map[string]string{}
	flatten("", gjson.ParseBytes(data), lines)

	keys := make([]string, 0, len(lines))
	for k := range lines {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(lines[k])
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func flatten(prefix string, node gjson.Result, out map[string]string) {
	switch {
	case node.IsObject():
		node.ForEach(func(key, value gjson.Result) bool {
			flatten(join(prefix, key.String()), value, out)
			return true
		})
	case node.IsArray():
		i := 0
		node.ForEach(func(_, value gjson.Result) bool {
			flatten(join(prefix, strconv.Itoa(i)), value, out)
			i++
			return true
		})
	case node.Type == gjson.Null:
		if prefix != "" {
			out[prefix] = "null"
		}
	default:
		if prefix != "" {
			out[prefix] = quoteIfNeeded(node.String())
		}
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// quoteIfNeeded 含空白或等号的值加引号, 保持一行一个键
func quoteIfNeeded(v string) string {
	if v == "" || strings.ContainsAny(v, " \t\n\r=\"") {
		return strconv.Quote(v)
	}
	return v
}
