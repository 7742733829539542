// Пакет openapi — встроенный OpenAPI контракт Ingest Module.
// Документ валидируется при старте и отдаётся на GET /openapi.json.
package openapi

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var document []byte

// Load разбирает и валидирует встроенный документ.
func Load(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	doc, err := loader.LoadFromData(document)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора OpenAPI документа: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("OpenAPI документ невалиден: %w", err)
	}
	return doc, nil
}

// Handler отдаёт документ в JSON. Сериализация выполняется один раз.
func Handler(doc *openapi3.T) (http.Handler, error) {
	body, err := doc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации OpenAPI документа: %w", err)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}), nil
}

// Describes сообщает, описан ли в документе метод method для шаблона пути path.
func Describes(doc *openapi3.T, method, path string) bool {
	item := doc.Paths.Find(path)
	if item == nil {
		return false
	}
	return item.GetOperation(method) != nil
}
