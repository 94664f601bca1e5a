package cfg

import "strings"

// Merge 用 override 覆盖 defaults，返回新的 map，不修改入参
//
// 只保留 defaults 中存在的键，override 独有的键被丢弃；
// 两边都是 map 时递归合并，否则 override 的值直接替换
func Merge(defaults, override map[string]any) map[string]any {
	result := make(map[string]any, len(defaults))
	for k, v := range defaults {
		ov, ok := override[k]
		if !ok {
			result[k] = clone(v)
			continue
		}
		dm, dIsMap := v.(map[string]any)
		om, oIsMap := ov.(map[string]any)
		if dIsMap && oIsMap {
			result[k] = Merge(dm, om)
		} else {
			result[k] = clone(ov)
		}
	}
	return result
}

func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, v := range t {
			m[k] = clone(v)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, v := range t {
			s[i] = clone(v)
		}
		return s
	default:
		return v
	}
}

// overlayEnv 将 a__b 形式的键按路径写入已存在的叶子节点，键名大小写不敏感
// 路径不存在或指向 map 的键被忽略
func overlayEnv(data map[string]any, env map[string]string) {
	for key, value := range env {
		path := strings.Split(key, "__")
		node := data
		for i, part := range path {
			k, ok := findKey(node, part)
			if !ok {
				break
			}
			if i == len(path)-1 {
				if _, isMap := node[k].(map[string]any); !isMap {
					node[k] = value
				}
				break
			}
			next, isMap := node[k].(map[string]any)
			if !isMap {
				break
			}
			node = next
		}
	}
}

func findKey(m map[string]any, name string) (string, bool) {
	if _, ok := m[name]; ok {
		return name, true
	}
	for k := range m {
		if strings.EqualFold(k, name) {
			return k, true
		}
	}
	return "", false
}
