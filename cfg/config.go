package cfg

import (
	"io/fs"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"github.com/KaiOuYang/WebAppStart/cfg/decoder"
	"github.com/KaiOuYang/WebAppStart/cfg/provider"
	"github.com/KaiOuYang/WebAppStart/log"
)

// Options 配置加载选项
type Options struct {
	// Default 默认配置文件，必须存在，决定配置的全部键
	Default string `cfg:"default" validate:"required"`
	// Overrides 按顺序合并的覆盖文件，不存在的文件跳过
	Overrides []string `cfg:"overrides"`
	// Env 不为空时用环境变量覆盖已有的键
	Env *provider.EnvProviderOptions `cfg:"env"`

	Logger log.Logger `cfg:"-"`
}

type source struct {
	provider provider.Provider
	decoder  decoder.Decoder
	optional bool
}

// Config 合并后的配置
type Config struct {
	mu   sync.RWMutex
	data map[string]any

	sources []*source
	env     *provider.EnvProvider
	logger  log.Logger

	onChange []func(*Config)
	children []*Config
	key      string
}

// NewConfig 直接用 map 构造配置，不关联任何文件
func NewConfig(data map[string]any) *Config {
	if data == nil {
		data = map[string]any{}
	}
	return &Config{data: data, logger: log.Default()}
}

// LoadWithOptions 依次加载默认配置和覆盖配置并合并，最后叠加环境变量
func LoadWithOptions(options *Options) (*Config, error) {
	if options == nil {
		return nil, errors.New("options is required")
	}
	if err := Validate(options); err != nil {
		return nil, errors.WithMessage(err, "invalid options")
	}

	c := &Config{logger: log.OrDefault(options.Logger).WithGroup("cfg")}

	files := append([]string{options.Default}, options.Overrides...)
	for i, file := range files {
		p, err := provider.NewFileProviderWithOptions(&provider.FileProviderOptions{FilePath: file})
		if err != nil {
			return nil, errors.WithMessagef(err, "provider.NewFileProviderWithOptions failed. file: [%s]", file)
		}
		d, err := decoder.DecoderForFile(file)
		if err != nil {
			return nil, errors.WithMessagef(err, "decoder.DecoderForFile failed. file: [%s]", file)
		}
		c.sources = append(c.sources, &source{provider: p, decoder: d, optional: i > 0})
	}

	if options.Env != nil {
		env, err := provider.NewEnvProviderWithOptions(options.Env)
		if err != nil {
			return nil, errors.WithMessage(err, "provider.NewEnvProviderWithOptions failed")
		}
		c.env = env
	}

	data, err := c.load()
	if err != nil {
		return nil, err
	}
	c.data = data

	return c, nil
}

func (c *Config) load() (map[string]any, error) {
	var result map[string]any
	for _, s := range c.sources {
		buf, err := s.provider.Load()
		if err != nil {
			if s.optional && errors.Is(err, fs.ErrNotExist) {
				c.logger.Debug("skip missing override", "err", err)
				continue
			}
			return nil, errors.WithMessage(err, "provider.Load failed")
		}
		data, err := s.decoder.Decode(buf)
		if err != nil {
			return nil, errors.WithMessage(err, "decoder.Decode failed")
		}
		if result == nil {
			result = data
			continue
		}
		result = Merge(result, data)
	}

	if result == nil {
		result = map[string]any{}
	}

	if c.env != nil {
		env, err := c.env.Environ()
		if err != nil {
			return nil, errors.WithMessage(err, "env.Environ failed")
		}
		overlayEnv(result, env)
	}

	return result, nil
}

// Data 返回配置数据的副本
func (c *Config) Data() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return clone(c.data).(map[string]any)
}

// Get 按 . 分隔的路径取值，如 db.host
func (c *Config) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return lookup(c.data, key)
}

func lookup(data map[string]any, key string) (any, bool) {
	if key == "" {
		return data, true
	}
	var node any = data
	for _, part := range strings.Split(key, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		if node, ok = m[part]; !ok {
			return nil, false
		}
	}
	return node, true
}

// Sub 返回子配置，父配置重新加载时子配置同步更新
func (c *Config) Sub(key string) *Config {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := &Config{logger: c.logger, key: key}
	sub.data = subData(c.data, key)
	c.children = append(c.children, sub)
	return sub
}

func subData(data map[string]any, key string) map[string]any {
	v, ok := lookup(data, key)
	if !ok {
		return map[string]any{}
	}
	m, ok := v.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return clone(m).(map[string]any)
}

// ConvertTo 将配置解码到结构体，按 cfg tag 匹配键，之后填充 def tag 默认值并校验
func (c *Config) ConvertTo(object any) error {
	c.mu.RLock()
	data := c.data
	c.mu.RUnlock()

	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "cfg",
		WeaklyTypedInput: true,
		Result:           object,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return errors.Wrap(err, "mapstructure.NewDecoder failed")
	}
	if err := d.Decode(data); err != nil {
		return errors.Wrap(err, "mapstructure.Decode failed")
	}
	if err := SetDefaults(object); err != nil {
		return errors.WithMessage(err, "SetDefaults failed")
	}
	if err := Validate(object); err != nil {
		return errors.WithMessage(err, "Validate failed")
	}
	return nil
}

// OnChange 注册配置变更回调，需要调用 Watch 才会触发
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// Watch 监听所有配置文件，任一文件变化时重新加载全部来源并合并
func (c *Config) Watch() error {
	for _, s := range c.sources {
		s.provider.OnChange(func([]byte) { c.reload() })
		if err := s.provider.Watch(); err != nil {
			return errors.WithMessage(err, "provider.Watch failed")
		}
	}
	return nil
}

func (c *Config) reload() {
	data, err := c.load()
	if err != nil {
		c.logger.Warn("reload config failed", "err", err)
		return
	}
	c.apply(data)
	c.logger.Info("config reloaded")
}

func (c *Config) apply(data map[string]any) {
	c.mu.Lock()
	c.data = data
	handlers := append([]func(*Config){}, c.onChange...)
	children := append([]*Config{}, c.children...)
	c.mu.Unlock()

	for _, child := range children {
		child.apply(subData(data, child.key))
	}
	for _, fn := range handlers {
		fn(c)
	}
}

func (c *Config) Close() error {
	var errs []string
	for _, s := range c.sources {
		if err := s.provider.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.Errorf("close providers failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
