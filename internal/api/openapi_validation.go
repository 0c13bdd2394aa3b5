// Copyright 2024 Potter Framework Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
	"github.com/gin-gonic/gin"

	"github.com/akriventsev/hotdeal/framework/core"
)

//go:embed openapi.yaml
var orderAPISpec []byte

// ValidationOptions опции для валидации OpenAPI
type ValidationOptions struct {
	ValidateRequest  bool
	ValidateResponse bool
	MultiError       bool
	Logger           *slog.Logger
}

// DefaultValidationOptions возвращает опции валидации по умолчанию
func DefaultValidationOptions() *ValidationOptions {
	return &ValidationOptions{
		ValidateRequest:  true,
		ValidateResponse: false,
		MultiError:       true,
		Logger:           slog.Default(),
	}
}

// ValidationError структура ошибки валидации
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// OpenAPIValidator валидатор HTTP запросов по OpenAPI спецификации
type OpenAPIValidator struct {
	spec    *openapi3.T
	router  routers.Router
	options *ValidationOptions
}

// NewOrderAPIValidator создает валидатор по встроенному описанию API заказов
func NewOrderAPIValidator(options *ValidationOptions) (*OpenAPIValidator, error) {
	return NewOpenAPIValidator(orderAPISpec, options)
}

// NewOpenAPIValidator создает новый OpenAPI валидатор из документа
func NewOpenAPIValidator(doc []byte, options *ValidationOptions) (*OpenAPIValidator, error) {
	loader := openapi3.NewLoader()

	spec, err := loader.LoadFromData(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI spec: %w", err)
	}

	if err := spec.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI spec: %w", err)
	}

	router, err := legacy.NewRouter(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	if options == nil {
		options = DefaultValidationOptions()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	return &OpenAPIValidator{
		spec:    spec,
		router:  router,
		options: options,
	}, nil
}

// Spec возвращает загруженный документ
func (v *OpenAPIValidator) Spec() *openapi3.T {
	return v.spec
}

// responseWriter обертка для gin.ResponseWriter для перехвата ответа
type responseWriter struct {
	gin.ResponseWriter
	body       bytes.Buffer
	statusCode int
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// Middleware возвращает Gin middleware для валидации запросов
func (v *OpenAPIValidator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if v.options.ValidateRequest {
			if err := v.ValidateRequest(c.Request); err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"code":    core.ErrBadRequest,
					"message": "invalid order request",
					"details": v.formatValidationError(err),
				})
				return
			}
		}

		if !v.options.ValidateResponse {
			c.Next()
			return
		}

		rw := &responseWriter{ResponseWriter: c.Writer, statusCode: http.StatusOK}
		c.Writer = rw
		c.Next()

		// Ответ уже отправлен, расхождение только логируется
		if err := v.ValidateResponse(c.Request, rw.statusCode, rw.Header(), rw.body.Bytes()); err != nil {
			v.options.Logger.Warn("response does not match OpenAPI document",
				"path", c.Request.URL.Path,
				"status", rw.statusCode,
				"error", err,
			)
		}
	}
}

// ValidateRequest валидирует HTTP запрос по OpenAPI спецификации.
// Тело запроса после проверки остается доступным для чтения.
func (v *OpenAPIValidator) ValidateRequest(req *http.Request) error {
	route, pathParams, err := v.router.FindRoute(req)
	if err != nil {
		return fmt.Errorf("route not found: %w", err)
	}

	input := &openapi3filter.RequestValidationInput{
		Request:     req,
		PathParams:  pathParams,
		Route:       route,
		QueryParams: req.URL.Query(),
		Options: &openapi3filter.Options{
			MultiError:         v.options.MultiError,
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
	}

	return openapi3filter.ValidateRequest(req.Context(), input)
}

// ValidateResponse валидирует HTTP ответ по OpenAPI спецификации
func (v *OpenAPIValidator) ValidateResponse(req *http.Request, statusCode int, header http.Header, body []byte) error {
	route, pathParams, err := v.router.FindRoute(req)
	if err != nil {
		return fmt.Errorf("route not found: %w", err)
	}

	input := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: pathParams,
			Route:      route,
		},
		Status:  statusCode,
		Header:  header,
		Body:    io.NopCloser(bytes.NewReader(body)),
		Options: &openapi3filter.Options{MultiError: v.options.MultiError},
	}

	return openapi3filter.ValidateResponse(context.Background(), input)
}

// formatValidationError раскладывает ошибку kin-openapi по полям
func (v *OpenAPIValidator) formatValidationError(err error) []ValidationError {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		out := make([]ValidationError, 0, len(multi))
		for _, e := range multi {
			out = append(out, singleValidationError(e))
		}
		return out
	}
	return []ValidationError{singleValidationError(err)}
}

func singleValidationError(err error) ValidationError {
	var schemaErr *openapi3.SchemaError
	if errors.As(err, &schemaErr) {
		return ValidationError{
			Field:   strings.Join(schemaErr.JSONPointer(), "."),
			Message: schemaErr.Reason,
		}
	}

	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Parameter != nil {
			return ValidationError{Field: reqErr.Parameter.Name, Message: reqErr.Error()}
		}
		if reqErr.Err != nil {
			return ValidationError{Message: reqErr.Err.Error()}
		}
		return ValidationError{Message: reqErr.Reason}
	}

	return ValidationError{Message: err.Error()}
}
