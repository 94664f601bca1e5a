package provider

// Provider 配置数据提供者，负责读取原始数据和监听变更
type Provider interface {
	// Load 读取配置数据
	Load() ([]byte, error)
	// OnChange 注册变更回调，只添加回调不启动监听
	OnChange(fn func(data []byte))
	// Watch 启动变更监听，之后 OnChange 注册的回调才会触发
	Watch() error
	Close() error
}
