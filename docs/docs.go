// Package docs embeds the OpenAPI description served at /docs/openapi.json.
package docs

import _ "embed"

//go:embed openapi.json
var OpenAPI []byte
