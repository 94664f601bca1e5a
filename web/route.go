package web

import (
	"net/http"
	"reflect"
	"runtime"
	"strings"
)

// Route 绑定了请求方法和路径的处理函数
//
// 处理函数的形式为 func(context.Context) (any, error) 或 func(context.Context, *T) (any, error)，
// T 的字段通过 arg tag 声明参数
type Route struct {
	Method  string
	Path    string
	Handler any
}

// Get 声明 GET 路由，路径中的 {name} 作为路径参数
func Get(path string, fn any) *Route {
	return &Route{Method: http.MethodGet, Path: path, Handler: fn}
}

// Post 声明 POST 路由
func Post(path string, fn any) *Route {
	return &Route{Method: http.MethodPost, Path: path, Handler: fn}
}

// funcName 返回去掉包路径的函数名
func funcName(fn any) string {
	if fn == nil {
		return "<nil>"
	}
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return reflect.TypeOf(fn).String()
	}
	name := runtime.FuncForPC(v.Pointer()).Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}
	// 方法值形如 (*Handlers).Index-fm
	return strings.TrimSuffix(name, "-fm")
}
