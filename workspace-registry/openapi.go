package main

import (
	_ "embed"
	"errors"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"

	"github.com/animus-labs/animus-pipelines/internal/platform/httpserver"
)

//go:embed openapi.yaml
var openapiSpec []byte

// requestValidator rejects requests that do not match the embedded API
// document before they reach a handler.
type requestValidator struct {
	router routers.Router
}

func newRequestValidator() (*requestValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiSpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("validate openapi: %w", err)
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("openapi router: %w", err)
	}
	return &requestValidator{router: router}, nil
}

func (v *requestValidator) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, pathParams, err := v.router.FindRoute(r)
		if err != nil {
			status, code := http.StatusNotFound, "not_found"
			if errors.Is(err, routers.ErrMethodNotAllowed) {
				status, code = http.StatusMethodNotAllowed, "method_not_allowed"
			}
			writeError(w, r, status, code)
			return
		}

		err = openapi3filter.ValidateRequest(r.Context(), &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				MultiError:         true,
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
			},
		})
		if err != nil {
			httpserver.WriteJSON(w, http.StatusBadRequest, map[string]any{
				"error":      "invalid_request",
				"issues":     requestIssues(err),
				"request_id": r.Header.Get("X-Request-Id"),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestIssues(err error) []string {
	var multi openapi3.MultiError
	if !errors.As(err, &multi) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(multi))
	for _, item := range multi {
		out = append(out, item.Error())
	}
	return out
}
