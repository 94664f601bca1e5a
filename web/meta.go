package web

import (
	"context"
	"net/http"
	"reflect"
	"strings"

	"github.com/muir/reflectutils"
)

// ArgKind 参数类别，注册时计算一次
type ArgKind int

const (
	ArgPositional ArgKind = iota
	ArgVarPositional
	ArgRequiredKeyword
	ArgOptionalKeyword
	ArgVarKeyword
	ArgRequest
)

func (k ArgKind) String() string {
	switch k {
	case ArgPositional:
		return "positional"
	case ArgVarPositional:
		return "var_positional"
	case ArgRequiredKeyword:
		return "required_keyword"
	case ArgOptionalKeyword:
		return "optional_keyword"
	case ArgVarKeyword:
		return "var_keyword"
	case ArgRequest:
		return "request"
	default:
		return "unknown"
	}
}

func (k ArgKind) isKeyword() bool {
	return k == ArgRequiredKeyword || k == ArgOptionalKeyword
}

// Arg 参数结构体中的一个字段
type Arg struct {
	Name string
	Kind ArgKind
	Type reflect.Type

	index      []int
	optional   bool
	hasDefault bool
	defaultVal reflect.Value
	defaultTxt string
}

func (a Arg) label() string {
	if a.hasDefault {
		return a.Name + "=" + a.defaultTxt
	}
	return a.Name
}

// HandlerMeta 处理函数的参数分类结果，注册后只读
type HandlerMeta struct {
	Method string
	Path   string
	Func   string
	Args   []Arg

	HasRequestArg  bool
	HasVarKwArg    bool
	HasNamedKwArgs bool
	NamedKwArgs    []string
	RequiredKwArgs []string

	fn       reflect.Value
	argsType reflect.Type
	validate bool
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	requestType = reflect.TypeOf((*http.Request)(nil))
	kwargsType  = reflect.TypeOf(map[string]any(nil))
)

// Inspect 检查处理函数的签名并对参数分类
//
//	type RegisterArgs struct {
//		Request *http.Request `arg:"request"`
//		Email   string        `arg:"email,kw" validate:"email"`
//		Name    string        `arg:"name,kw"`
//		Page    int           `arg:"page,kw,default=1"`
//		Extra   map[string]any `arg:",kwargs"`
//	}
//	func Register(ctx context.Context, args *RegisterArgs) (any, error)
func Inspect(route *Route) (*HandlerMeta, error) {
	if route == nil {
		return nil, &ConfigError{Func: "<nil>", Reason: "route is nil"}
	}
	name := funcName(route.Handler)
	if route.Method == "" || route.Path == "" {
		return nil, &ConfigError{Func: name, Reason: "web.Get or web.Post not defined in"}
	}

	fn := reflect.ValueOf(route.Handler)
	if fn.Kind() != reflect.Func || fn.IsNil() {
		return nil, &ConfigError{Func: name, Reason: "handler is not a function"}
	}
	t := fn.Type()
	if t.NumIn() < 1 || t.NumIn() > 2 || t.In(0) != contextType || t.IsVariadic() {
		return nil, &ConfigError{Func: name, Signature: t.String(), Reason: "handler must accept (context.Context) or (context.Context, *T)"}
	}
	if t.NumOut() != 2 || t.Out(1) != errorType {
		return nil, &ConfigError{Func: name, Signature: t.String(), Reason: "handler must return (T, error)"}
	}

	m := &HandlerMeta{
		Method: strings.ToUpper(route.Method),
		Path:   route.Path,
		Func:   name,
		fn:     fn,
	}
	switch m.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead, http.MethodOptions:
	default:
		return nil, &ConfigError{Func: name, Reason: "unsupported method " + route.Method + " in"}
	}
	if t.NumIn() == 1 {
		return m, nil
	}

	in := t.In(1)
	if in.Kind() != reflect.Ptr || in.Elem().Kind() != reflect.Struct {
		return nil, &ConfigError{Func: name, Signature: t.String(), Reason: "handler argument must be a pointer to struct"}
	}
	m.argsType = in.Elem()

	args, validate, err := parseArgs(name, m.argsType)
	if err != nil {
		return nil, err
	}
	m.Args = args
	m.validate = validate

	if err := checkOrder(name, args); err != nil {
		return nil, err
	}

	for _, a := range args {
		switch a.Kind {
		case ArgRequest:
			m.HasRequestArg = true
		case ArgVarKeyword:
			m.HasVarKwArg = true
		case ArgRequiredKeyword:
			m.RequiredKwArgs = append(m.RequiredKwArgs, a.Name)
			fallthrough
		case ArgOptionalKeyword:
			m.HasNamedKwArgs = true
			m.NamedKwArgs = append(m.NamedKwArgs, a.Name)
		}
	}

	return m, nil
}

func parseArgs(fn string, t reflect.Type) ([]Arg, bool, error) {
	var args []Arg
	var walkErr error
	validate := false
	seen := map[string]bool{}

	reflectutils.WalkStructElements(t, func(sf reflect.StructField) bool {
		if walkErr != nil {
			return false
		}
		if _, ok := sf.Tag.Lookup("validate"); ok {
			validate = true
		}
		tag, ok := sf.Tag.Lookup("arg")
		if !ok || tag == "-" {
			return sf.Anonymous
		}
		if !sf.IsExported() {
			walkErr = &ConfigError{Func: fn, Reason: "arg tag on unexported field " + sf.Name + " in"}
			return false
		}
		a, err := parseArg(fn, sf, tag)
		if err != nil {
			walkErr = err
			return false
		}
		if seen[a.Name] {
			walkErr = &ConfigError{Func: fn, Reason: "duplicate argument " + a.Name + " in"}
			return false
		}
		seen[a.Name] = true
		args = append(args, a)
		return false
	})
	if walkErr != nil {
		return nil, false, walkErr
	}
	return args, validate, nil
}

// parseArg 解析 arg tag，格式为 name,flag,flag
//
// flag: kw 关键字参数，optional 可选，default=v 默认值（隐含可选），args 可变位置参数，kwargs 可变关键字参数
func parseArg(fn string, sf reflect.StructField, tag string) (Arg, error) {
	invalid := func(reason string) (Arg, error) {
		return Arg{}, &ConfigError{Func: fn, Reason: "field " + sf.Name + ": " + reason + " in"}
	}

	parts := strings.Split(tag, ",")
	a := Arg{Name: strings.TrimSpace(parts[0]), Type: sf.Type, index: sf.Index, Kind: ArgPositional}

	var kw, optional, varArgs, varKwargs bool
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		switch {
		case p == "kw":
			kw = true
		case p == "optional":
			optional = true
		case p == "args":
			varArgs = true
		case p == "kwargs":
			varKwargs = true
		case strings.HasPrefix(p, "default="):
			a.hasDefault = true
			a.defaultTxt = strings.TrimPrefix(p, "default=")
		case p == "":
		default:
			return invalid("unknown flag " + p)
		}
	}

	switch {
	case varArgs:
		if sf.Type.Kind() != reflect.Slice {
			return invalid("args must be a slice")
		}
		if a.Name == "" {
			a.Name = "args"
		}
		a.Kind = ArgVarPositional
	case varKwargs:
		if sf.Type != kwargsType {
			return invalid("kwargs must be map[string]any")
		}
		if a.Name == "" {
			a.Name = "kw"
		}
		a.Kind = ArgVarKeyword
	case a.Name == "request":
		if sf.Type != requestType {
			return invalid("request must be *http.Request")
		}
		a.Kind = ArgRequest
	case a.Name == "":
		return invalid("missing name")
	case kw && (optional || a.hasDefault):
		a.Kind = ArgOptionalKeyword
	case kw:
		a.Kind = ArgRequiredKeyword
	}

	if a.hasDefault {
		if a.Kind != ArgPositional && a.Kind != ArgOptionalKeyword {
			return invalid("default not allowed")
		}
		v, err := coerce(a.defaultTxt, sf.Type)
		if err != nil {
			return invalid("invalid default " + a.defaultTxt)
		}
		a.defaultVal = v
	}
	a.optional = optional || a.hasDefault || a.Kind != ArgPositional && a.Kind != ArgRequiredKeyword

	return a, nil
}

// checkOrder request 之后只能出现可变位置参数、关键字参数和可变关键字参数
func checkOrder(fn string, args []Arg) error {
	foundRequest := false
	seenKeyword := false
	for i, a := range args {
		if a.Kind == ArgRequest {
			foundRequest = true
			continue
		}
		if foundRequest && a.Kind != ArgVarPositional && !a.Kind.isKeyword() && a.Kind != ArgVarKeyword {
			return &ConfigError{Func: fn, Signature: renderSignature(args), Reason: "request parameter must be the last named parameter in function"}
		}
		if a.Kind == ArgPositional && seenKeyword {
			return &ConfigError{Func: fn, Signature: renderSignature(args), Reason: "positional parameter " + a.Name + " follows keyword parameter in function"}
		}
		if a.Kind == ArgVarKeyword && i != len(args)-1 {
			return &ConfigError{Func: fn, Signature: renderSignature(args), Reason: "kwargs must be the last parameter in function"}
		}
		if a.Kind == ArgVarPositional || a.Kind.isKeyword() {
			seenKeyword = true
		}
	}
	return nil
}

// renderSignature 按声明顺序渲染参数，如 (id, request, *, email, page=1, **kw)
func renderSignature(args []Arg) string {
	parts := make([]string, 0, len(args)+1)
	starred := false
	for _, a := range args {
		switch a.Kind {
		case ArgVarPositional:
			parts = append(parts, "*"+a.Name)
			starred = true
		case ArgRequiredKeyword, ArgOptionalKeyword:
			if !starred {
				parts = append(parts, "*")
				starred = true
			}
			parts = append(parts, a.label())
		case ArgVarKeyword:
			parts = append(parts, "**"+a.Name)
		default:
			parts = append(parts, a.label())
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Signature 返回渲染后的参数列表
func (m *HandlerMeta) Signature() string {
	return renderSignature(m.Args)
}

// ParamNames 返回参数名，用于注册日志
func (m *HandlerMeta) ParamNames() string {
	names := make([]string, 0, len(m.Args))
	for _, a := range m.Args {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}
