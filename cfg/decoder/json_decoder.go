package decoder

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// JsonDecoder JSON 解码器，允许 // 行注释和对象、数组末尾的多余逗号
type JsonDecoder struct{}

func NewJsonDecoder() *JsonDecoder {
	return &JsonDecoder{}
}

func (d *JsonDecoder) Decode(data []byte) (map[string]any, error) {
	var result map[string]any
	if err := json.Unmarshal(preprocess(data), &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode JSON")
	}
	if result == nil {
		result = map[string]any{}
	}
	return result, nil
}

// preprocess 去掉字符串外的 // 注释和 } ] 前的逗号
func preprocess(data []byte) []byte {
	var b strings.Builder
	b.Grow(len(data))

	inString, escaped := false, false
	pendingComma := false
	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch {
		case c == '/' && i+1 < len(data) && data[i+1] == '/':
			for i < len(data) && data[i] != '\n' {
				i++
			}
			if i < len(data) {
				b.WriteByte('\n')
			}
			continue
		case c == ',':
			pendingComma = true
			continue
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			b.WriteByte(c)
			continue
		}

		if pendingComma {
			if c != '}' && c != ']' {
				b.WriteByte(',')
			}
			pendingComma = false
		}
		if c == '"' {
			inString = true
		}
		b.WriteByte(c)
	}
	if pendingComma {
		b.WriteByte(',')
	}
	return []byte(b.String())
}
