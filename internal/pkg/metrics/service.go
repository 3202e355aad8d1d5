package metrics

import "sync/atomic"

// 战斗指标的 service 标签取自这里, battle 模块在 OnInit 时设置。
var globalServiceName atomic.Value

const defaultServiceName = "fable"

func init() {
	globalServiceName.Store(defaultServiceName)
}

// SetServiceName 配置当前服务名称, 作为所有战斗指标的 service 标签值。
func SetServiceName(name string) {
	if name == "" {
		name = defaultServiceName
	}
	globalServiceName.Store(name)
}

// GetServiceName 返回当前配置的服务名称, 未设置时回退到 fable。
func GetServiceName() string {
	if value, ok := globalServiceName.Load().(string); ok && value != "" {
		return value
	}
	return defaultServiceName
}

func normalizeServiceName(name string) string {
	if name == "" {
		return GetServiceName()
	}
	return name
}
