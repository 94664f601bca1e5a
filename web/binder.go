package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/KaiOuYang/WebAppStart/log"
)

const defaultMaxMemory = 32 << 20

var durationType = reflect.TypeOf(time.Duration(0))

// argValidator 校验参数结构体上的 validate tag，错误中的字段名使用 arg tag 中的名字
var argValidator = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(sf reflect.StructField) string {
		name, _, _ := strings.Cut(sf.Tag.Get("arg"), ",")
		if name == "" || name == "-" {
			return sf.Name
		}
		return name
	})
	return v
}()

func (m *HandlerMeta) wantsKeywords() bool {
	return m.HasVarKwArg || m.HasNamedKwArgs || len(m.RequiredKwArgs) > 0
}

// extract 按请求方法和 Content-Type 提取参数，返回 nil 表示没有提取到任何参数
func extract(r *http.Request) (map[string]any, error) {
	switch r.Method {
	case http.MethodPost:
		ct := r.Header.Get("Content-Type")
		if ct == "" {
			return nil, newRequestError("Missing Content-Type")
		}
		lower := strings.ToLower(ct)
		switch {
		case strings.HasPrefix(lower, "application/json"):
			var body any
			dec := json.NewDecoder(r.Body)
			if err := dec.Decode(&body); err != nil {
				return nil, newRequestError("Invalid JSON body.")
			}
			// 请求体只能包含一个 JSON 值
			if err := dec.Decode(new(any)); !errors.Is(err, io.EOF) {
				return nil, newRequestError("Invalid JSON body.")
			}
			obj, ok := body.(map[string]any)
			if !ok {
				return nil, newRequestError("JSON body must be object.")
			}
			return obj, nil
		case strings.HasPrefix(lower, "application/x-www-form-urlencoded"):
			if err := r.ParseForm(); err != nil {
				return nil, newRequestError("Invalid form body.")
			}
			return firstValues(r.PostForm), nil
		case strings.HasPrefix(lower, "multipart/form-data"):
			if err := r.ParseMultipartForm(defaultMaxMemory); err != nil {
				return nil, newRequestError("Invalid form body.")
			}
			return firstValues(r.PostForm), nil
		default:
			return nil, newRequestError("Unsupported Content-Type: %s", ct)
		}
	case http.MethodGet:
		if r.URL.RawQuery == "" {
			return nil, nil
		}
		// 与浏览器一致，忽略无法解析的片段
		query, _ := url.ParseQuery(r.URL.RawQuery)
		return firstValues(query), nil
	}
	return nil, nil
}

func firstValues(values url.Values) map[string]any {
	kw := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) > 0 {
			kw[k] = v[0]
		}
	}
	return kw
}

func pathParams(r *http.Request) map[string]string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return nil
	}
	params := make(map[string]string, len(rctx.URLParams.Keys))
	for i, k := range rctx.URLParams.Keys {
		if k == "*" || i >= len(rctx.URLParams.Values) {
			continue
		}
		params[k] = rctx.URLParams.Values[i]
	}
	return params
}

// reconcile 合并提取到的参数和路径参数，路径参数优先
func (m *HandlerMeta) reconcile(r *http.Request, extracted map[string]any, logger log.Logger) map[string]any {
	path := pathParams(r)

	var kw map[string]any
	if extracted == nil {
		kw = make(map[string]any, len(path)+1)
		for k, v := range path {
			kw[k] = v
		}
	} else {
		kw = extracted
		if !m.HasVarKwArg && len(m.NamedKwArgs) > 0 {
			kw = make(map[string]any, len(m.NamedKwArgs))
			for _, name := range m.NamedKwArgs {
				if v, ok := extracted[name]; ok {
					kw[name] = v
				}
			}
		}
		for k, v := range path {
			if _, ok := kw[k]; ok {
				logger.WarnContext(r.Context(), "duplicate arg name in named arg and kw args", "name", k, "func", m.Func)
			}
			kw[k] = v
		}
	}

	if m.HasRequestArg {
		kw["request"] = r
	}
	return kw
}

// Bind 依次执行提取、合并、校验，返回可直接传给处理函数的参数
func (m *HandlerMeta) Bind(r *http.Request, logger log.Logger) (reflect.Value, error) {
	logger = log.OrDefault(logger)

	var extracted map[string]any
	if m.wantsKeywords() {
		var err error
		if extracted, err = extract(r); err != nil {
			return reflect.Value{}, err
		}
	}

	kw := m.reconcile(r, extracted, logger)

	for _, name := range m.RequiredKwArgs {
		if _, ok := kw[name]; !ok {
			return reflect.Value{}, newRequestError("Missing argument: %s", name)
		}
	}

	if m.argsType == nil {
		return reflect.Value{}, nil
	}

	args, err := m.assign(kw)
	if err != nil {
		return reflect.Value{}, err
	}

	if m.validate {
		if err := argValidator.Struct(args.Interface()); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				return reflect.Value{}, newRequestError("Invalid argument: %s", verrs[0].Field())
			}
			return reflect.Value{}, newRequestError("Invalid argument: %s", err.Error())
		}
	}

	logger.DebugContext(r.Context(), "call with args", "func", m.Func, "args", keys(kw))
	return args, nil
}

func (m *HandlerMeta) assign(kw map[string]any) (reflect.Value, error) {
	ptr := reflect.New(m.argsType)
	consumed := make(map[string]bool, len(m.Args))
	var varKw *Arg

	for i := range m.Args {
		a := &m.Args[i]
		switch a.Kind {
		case ArgVarPositional:
			continue
		case ArgVarKeyword:
			varKw = a
			continue
		}

		f := ptr.Elem().FieldByIndex(a.index)
		v, ok := kw[a.Name]
		if !ok {
			if a.hasDefault {
				f.Set(a.defaultVal)
			} else if !a.optional {
				return reflect.Value{}, newRequestError("Missing argument: %s", a.Name)
			}
			continue
		}
		consumed[a.Name] = true

		cv, err := coerce(v, a.Type)
		if err != nil {
			return reflect.Value{}, newRequestError("Invalid argument: %s", a.Name)
		}
		f.Set(cv)
	}

	if varKw != nil {
		rest := make(map[string]any, len(kw))
		for k, v := range kw {
			if !consumed[k] && k != "request" {
				rest[k] = v
			}
		}
		ptr.Elem().FieldByIndex(varKw.index).Set(reflect.ValueOf(rest))
	}

	return ptr, nil
}

func keys(kw map[string]any) []string {
	ks := make([]string, 0, len(kw))
	for k := range kw {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

// coerce 将请求中的值转换为字段类型，字符串形式的数字和布尔值按目标类型解析
func coerce(v any, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	if v == nil {
		return out, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		out.Set(rv)
		return out, nil
	}

	switch t.Kind() {
	case reflect.Ptr:
		elem, err := coerce(v, t.Elem())
		if err != nil {
			return out, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(elem)
		out.Set(p)
	case reflect.String:
		s, err := cast.ToStringE(v)
		if err != nil {
			return out, err
		}
		out.SetString(s)
	case reflect.Bool:
		b, err := cast.ToBoolE(v)
		if err != nil {
			return out, err
		}
		out.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var n int64
		var err error
		if t == durationType {
			var d time.Duration
			d, err = cast.ToDurationE(v)
			n = int64(d)
		} else {
			n, err = toInt64E(v)
		}
		if err != nil {
			return out, err
		}
		if out.OverflowInt(n) {
			return out, errors.Errorf("%d overflows %s", n, t)
		}
		out.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toUint64E(v)
		if err != nil {
			return out, err
		}
		if out.OverflowUint(n) {
			return out, errors.Errorf("%d overflows %s", n, t)
		}
		out.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return out, err
		}
		out.SetFloat(f)
	case reflect.Slice:
		var items []any
		switch s := v.(type) {
		case []any:
			items = s
		case string:
			for _, item := range strings.Split(s, ",") {
				items = append(items, strings.TrimSpace(item))
			}
		default:
			return out, errors.Errorf("cannot convert %T to %s", v, t)
		}
		slice := reflect.MakeSlice(t, len(items), len(items))
		for i, item := range items {
			ev, err := coerce(item, t.Elem())
			if err != nil {
				return out, errors.WithMessagef(err, "element %d", i)
			}
			slice.Index(i).Set(ev)
		}
		out.Set(slice)
	default:
		return out, errors.Errorf("cannot convert %T to %s", v, t)
	}
	return out, nil
}

// call 调用处理函数，panic 转换为错误
func (m *HandlerMeta) call(ctx context.Context, args reflect.Value) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("panic: %v", p)
		}
	}()

	in := []reflect.Value{reflect.ValueOf(ctx)}
	if m.argsType != nil {
		in = append(in, args)
	}
	out := m.fn.Call(in)
	if e, ok := out[1].Interface().(error); ok && e != nil {
		return nil, e
	}
	if isNil(out[0]) {
		return nil, nil
	}
	return out[0].Interface(), nil
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	default:
		return false
	}
}

// respond 按返回值类型写响应：string 为 HTML，[]byte 为二进制，nil 为 204，其余编码为 JSON
func respond(w http.ResponseWriter, result any) int {
	switch v := result.(type) {
	case nil:
		w.WriteHeader(http.StatusNoContent)
		return http.StatusNoContent
	case string:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, v)
		return http.StatusOK
	case []byte:
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(v)
		return http.StatusOK
	default:
		return writeJSON(w, http.StatusOK, v)
	}
}

// toInt64E 字符串按十进制解析，不接受 0x 前缀和八进制，浮点数必须是整数值
func toInt64E(v any) (int64, error) {
	switch t := v.(type) {
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, errors.Errorf("%q is not a decimal integer", t)
		}
		return n, nil
	case float32:
		return floatToInt64(float64(t))
	case float64:
		return floatToInt64(t)
	default:
		return cast.ToInt64E(v)
	}
}

func floatToInt64(f float64) (int64, error) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, errors.Errorf("%v is not an integer", f)
	}
	return int64(f), nil
}

func toUint64E(v any) (uint64, error) {
	switch t := v.(type) {
	case string:
		n, err := strconv.ParseUint(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, errors.Errorf("%q is not a decimal unsigned integer", t)
		}
		return n, nil
	case float32:
		return floatToUint64(float64(t))
	case float64:
		return floatToUint64(t)
	default:
		return cast.ToUint64E(v)
	}
}

func floatToUint64(f float64) (uint64, error) {
	if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 {
		return 0, errors.Errorf("%v is not an unsigned integer", f)
	}
	return uint64(f), nil
}
