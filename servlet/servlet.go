// Package servlet scopes values to HTTP requests and serves handlers that
// are resolved from an injector on every request.
package servlet

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/centraunit/inject"
)

// RequestScope keeps one instance per HTTP request. Requests must pass
// through Filter.
var RequestScope = inject.NewContextScope("RequestScope")

// URLParams holds the route parameters of the current request.
type URLParams map[string]string

var (
	requestKey = inject.KeyOf[*http.Request]()
	writerKey  = inject.KeyOf[http.ResponseWriter]()

	errNotSeeded = errors.New("servlet: request values are only available inside Filter")
)

// Module binds *http.Request, http.ResponseWriter and URLParams in
// RequestScope.
var Module = inject.ModuleFunc(func(b *inject.Binder) {
	notSeeded := func(context.Context) (any, error) { return nil, errNotSeeded }
	b.Bind(requestKey).ToProviderFunc(notSeeded).In(RequestScope)
	b.Bind(writerKey).ToProviderFunc(notSeeded).In(RequestScope)
	inject.Bind[URLParams](b).ToProviderFunc(urlParams).In(RequestScope)
})

func urlParams(ctx context.Context) (any, error) {
	params := URLParams{}
	if rctx := chi.RouteContext(ctx); rctx != nil {
		for i, k := range rctx.URLParams.Keys {
			params[k] = rctx.URLParams.Values[i]
		}
	}
	return params, nil
}

// Filter enters RequestScope for every request and seeds it with the
// request and response writer.
func Filter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := RequestScope.Enter(r.Context())
		r = r.WithContext(ctx)
		mustSeed(ctx, requestKey, r)
		mustSeed(ctx, writerKey, w)
		next.ServeHTTP(w, r)
	})
}

// mustSeed seeds a context that has just entered RequestScope, where Seed
// cannot fail.
func mustSeed(ctx context.Context, key inject.Key, v any) {
	if err := RequestScope.Seed(ctx, key, v); err != nil {
		panic(err)
	}
}

// Route serves the http.Handler bound to Handler at Method and Pattern.
type Route struct {
	Method  string
	Pattern string
	Handler inject.Key
}

// Handle returns a route serving the binding of H.
func Handle[H http.Handler](method, pattern string, qualifier ...any) Route {
	return Route{Method: method, Pattern: pattern, Handler: inject.KeyOf[H](qualifier...)}
}

// NewRouter returns a chi router that resolves the handler of a route from
// inj on every request.
func NewRouter(inj *inject.Injector, routes ...Route) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(Filter)
	for _, rt := range routes {
		r.Method(rt.Method, rt.Pattern, handlerFor(inj, rt.Handler))
	}
	return r
}

func handlerFor(inj *inject.Injector, key inject.Key) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := inj.GetInstance(r.Context(), key)
		if err != nil {
			inj.Logger().Error("resolving handler failed", "key", key.String(), "path", r.URL.Path, "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		h, ok := v.(http.Handler)
		if !ok {
			inj.Logger().Error("bound value is not an http.Handler", "key", key.String())
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		h.ServeHTTP(w, r)
	}
}
