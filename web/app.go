package web

import (
	"context"
	"net/http"
	"reflect"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/KaiOuYang/WebAppStart/cfg"
	"github.com/KaiOuYang/WebAppStart/log"
)

type AppOptions struct {
	// Name 用于指标前缀和 tracer 名称
	Name          string `cfg:"name" def:"web" validate:"required"`
	EnableMetrics bool   `cfg:"enableMetrics"`
	EnableTracing bool   `cfg:"enableTracing"`

	Logger     log.Logger            `cfg:"-"`
	Registerer prometheus.Registerer `cfg:"-"`
}

// App 基于 chi 的路由，负责处理函数的注册和请求绑定
type App struct {
	router  chi.Router
	logger  log.Logger
	metrics *httpMetrics
	tracer  trace.Tracer
	routes  []*HandlerMeta
}

func NewAppWithOptions(options *AppOptions) (*App, error) {
	o := AppOptions{}
	if options != nil {
		o = *options
	}
	if err := cfg.SetDefaults(&o); err != nil {
		return nil, errors.WithMessage(err, "cfg.SetDefaults failed")
	}
	if err := cfg.Validate(&o); err != nil {
		return nil, errors.WithMessage(err, "invalid options")
	}

	a := &App{
		router: chi.NewRouter(),
		logger: log.OrDefault(o.Logger).WithGroup("web"),
	}
	if o.EnableMetrics {
		r := o.Registerer
		if r == nil {
			r = prometheus.DefaultRegisterer
		}
		a.metrics = newHTTPMetrics(o.Name, r)
	}
	if o.EnableTracing {
		a.tracer = otel.Tracer("web." + o.Name)
	}
	return a, nil
}

// AddRoute 检查处理函数签名并注册路由
func (a *App) AddRoute(route *Route) error {
	meta, err := Inspect(route)
	if err != nil {
		return err
	}

	a.router.Method(meta.Method, meta.Path, &handler{app: a, meta: meta})
	a.routes = append(a.routes, meta)
	a.logger.Info("add route", "method", meta.Method, "path", meta.Path, "handler", meta.Func+"("+meta.ParamNames()+")")
	return nil
}

// AddRoutes 注册 module 中所有导出的 *Route 和 []*Route 字段，module 为结构体或结构体指针
//
//	type Handlers struct {
//		Index    *web.Route
//		Register *web.Route
//	}
//	app.AddRoutes(&Handlers{Index: web.Get("/", index), Register: web.Post("/api/users", register)})
func (a *App) AddRoutes(module any) error {
	rv := reflect.ValueOf(module)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return errors.Wrap(ErrConfiguration, "module is nil")
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return errors.Wrapf(ErrConfiguration, "module must be a struct, got %T", module)
	}

	routeType := reflect.TypeOf((*Route)(nil))
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		fv := rv.Field(i)
		switch {
		case sf.Type == routeType:
			if fv.IsNil() {
				continue
			}
			if err := a.AddRoute(fv.Interface().(*Route)); err != nil {
				return errors.WithMessagef(err, "field %s", sf.Name)
			}
		case sf.Type.Kind() == reflect.Slice && sf.Type.Elem() == routeType:
			for j := 0; j < fv.Len(); j++ {
				r := fv.Index(j).Interface().(*Route)
				if r == nil {
					continue
				}
				if err := a.AddRoute(r); err != nil {
					return errors.WithMessagef(err, "field %s[%d]", sf.Name, j)
				}
			}
		}
	}
	return nil
}

// Handle 挂载原生 http.Handler，如 /metrics
func (a *App) Handle(pattern string, h http.Handler) {
	a.router.Handle(pattern, h)
}

// Routes 返回已注册的路由
func (a *App) Routes() []*HandlerMeta {
	return a.routes
}

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

type handler struct {
	app  *App
	meta *HandlerMeta
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.app.observe(r.Context(), h.meta, func(ctx context.Context) int {
		return h.serve(w, r.WithContext(ctx))
	})
}

func (h *handler) serve(w http.ResponseWriter, r *http.Request) int {
	logger := h.app.logger

	args, err := h.meta.Bind(r, logger)
	if err != nil {
		logger.InfoContext(r.Context(), "bad request", "func", h.meta.Func, "error", err.Error())
		return writeError(w, err)
	}

	result, err := h.meta.call(r.Context(), args)
	if err != nil {
		status := writeError(w, err)
		if status >= http.StatusInternalServerError {
			logger.ErrorContext(r.Context(), "handler failed", "func", h.meta.Func, "status", status, "error", err.Error())
		} else {
			logger.InfoContext(r.Context(), "handler returned error", "func", h.meta.Func, "status", status, "error", err.Error())
		}
		return status
	}

	return respond(w, result)
}
