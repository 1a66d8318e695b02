package openapi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const translateYAML = `
openapi: 3.0.1
info:
  title: Translate
  version: v1
servers:
  - url: https://api.example.com
paths:
  /translate:
    post:
      summary: Translate text
      requestBody:
        content:
          application/json:
            schema:
              $ref: '#/components/schemas/TranslateRequest'
      responses:
        "200":
          description: OK
          content:
            application/json:
              schema:
                $ref: '#/components/schemas/TranslateResponse'
components:
  schemas:
    TranslateRequest:
      type: object
      properties:
        text:
          type: string
          description: The text to translate
        target_lang:
          type: string
          description: Target language code
    TranslateResponse:
      type: object
      properties:
        explanation:
          type: string
          description: The translated text
`

const shopJSON = `{
  "openapi": "3.0.0",
  "info": {"title": "Shop", "version": "1.0"},
  "paths": {
    "/search": {
      "parameters": [{"$ref": "#/components/parameters/Locale"}],
      "get": {
        "summary": "Search products",
        "parameters": [
          {"name": "q", "in": "query", "description": "Query"},
          {"name": "size", "in": "query"}
        ],
        "responses": {
          "200": {"$ref": "#/components/responses/SearchResult"}
        }
      }
    },
    "/products/{id}": {
      "GET": {"summary": "Get product", "parameters": [{"name": "id", "in": "path", "required": true}]},
      "delete": {"summary": "Delete product"},
      "x-internal": {"summary": "not an operation"}
    }
  },
  "components": {
    "parameters": {
      "Locale": {"name": "locale", "in": "header"}
    },
    "responses": {
      "SearchResult": {
        "description": "ok",
        "content": {"application/json; charset=utf-8": {"schema": {"$ref": "#/components/schemas/Result"}}}
      }
    },
    "schemas": {
      "Result": {"$ref": "#/components/schemas/ResultBody"},
      "ResultBody": {
        "type": "object",
        "properties": {"explanation": {"type": "string", "description": "Matching products"}}
      }
    }
  }
}`

func mustDecode(t *testing.T, src string) *Document {
	t.Helper()
	doc, err := Decode([]byte(src))
	require.NoError(t, err)
	return doc
}
