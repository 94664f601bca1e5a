package decoder

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// EnvDecoder .env 解码器，A__B=1 解码为 {"A": {"B": "1"}}，值保持字符串
type EnvDecoder struct{}

func NewEnvDecoder() *EnvDecoder {
	return &EnvDecoder{}
}

func (d *EnvDecoder) Decode(data []byte) (map[string]any, error) {
	env, err := godotenv.UnmarshalBytes(data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode env")
	}

	result := map[string]any{}
	for key, value := range env {
		parts := strings.Split(key, "__")
		node := result
		for _, part := range parts[:len(parts)-1] {
			next, ok := node[part].(map[string]any)
			if !ok {
				next = map[string]any{}
				node[part] = next
			}
			node = next
		}
		node[parts[len(parts)-1]] = value
	}
	return result, nil
}
