package decoder

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

var ErrUnsupportedFormat = errors.New("unsupported config format")

// Decoder 将原始配置数据解码为 map
type Decoder interface {
	Decode(data []byte) (map[string]any, error)
}

// DecoderForFile 按扩展名选择解码器
func DecoderForFile(path string) (Decoder, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", ".json5":
		return NewJsonDecoder(), nil
	case ".yaml", ".yml":
		return NewYamlDecoder(), nil
	case ".toml":
		return NewTomlDecoder(), nil
	case ".ini":
		return NewIniDecoder(), nil
	case ".env":
		return NewEnvDecoder(), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%q", ext)
	}
}

// normalize 将解码器产出的 map[any]any 等结构统一为 map[string]any
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, vv := range t {
			t[k] = normalize(vv)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[toString(k)] = normalize(vv)
		}
		return m
	case []any:
		for i, vv := range t {
			t[i] = normalize(vv)
		}
		return t
	case []map[string]any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = normalize(vv)
		}
		return s
	default:
		return v
	}
}

func toString(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	return fmt.Sprint(k)
}
