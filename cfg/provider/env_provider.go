package provider

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type EnvProviderOptions struct {
	// EnvFiles 按顺序加载，后面的覆盖前面的，不存在的文件跳过
	EnvFiles []string `cfg:"envFiles"`
	// Prefix 只处理带前缀的变量，处理时去掉前缀，如 APP_
	Prefix string `cfg:"prefix"`
}

// EnvProvider 环境变量提供者，系统环境变量优先级最低
type EnvProvider struct {
	envFiles []string
	prefix   string
}

func NewEnvProviderWithOptions(options *EnvProviderOptions) (*EnvProvider, error) {
	if options == nil {
		options = &EnvProviderOptions{}
	}

	var envFiles []string
	for _, file := range options.EnvFiles {
		if file == "" {
			continue
		}
		absPath, err := filepath.Abs(file)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid env file path: %s", file)
		}
		envFiles = append(envFiles, absPath)
	}

	return &EnvProvider{envFiles: envFiles, prefix: options.Prefix}, nil
}

// Load 返回 .env 格式的数据，交给 EnvDecoder 解码
func (p *EnvProvider) Load() ([]byte, error) {
	env, err := p.Environ()
	if err != nil {
		return nil, err
	}
	data, err := godotenv.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "godotenv.Marshal failed")
	}
	return []byte(data), nil
}

// Environ 返回去掉前缀后的变量表
func (p *EnvProvider) Environ() (map[string]string, error) {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if key = p.trimPrefix(key); key != "" {
			env[key] = value
		}
	}

	for _, file := range p.envFiles {
		if _, err := os.Stat(file); os.IsNotExist(err) {
			continue
		}
		values, err := godotenv.Read(file)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load env file: %s", file)
		}
		for key, value := range values {
			if key = p.trimPrefix(key); key != "" {
				env[key] = value
			}
		}
	}
	return env, nil
}

func (p *EnvProvider) trimPrefix(key string) string {
	if p.prefix == "" {
		return key
	}
	if !strings.HasPrefix(key, p.prefix) {
		return ""
	}
	return key[len(p.prefix):]
}

func (p *EnvProvider) OnChange(fn func(data []byte)) {}

// Watch 环境变量不支持变更监听
func (p *EnvProvider) Watch() error {
	return nil
}

func (p *EnvProvider) Close() error {
	return nil
}
