// Package api содержит OpenAPI спецификацию HTTP API.
package api

import _ "embed"

//go:embed openapi.json
var OpenAPISpec []byte
