package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "title": "ED Flow Simulator",
    "description": "Emergency department triage, routing and discrete-event simulation",
    "version": "1.0"
  },
  "basePath": "/",
  "paths": {
    "/healthz": {
      "get": {"tags": ["health"], "summary": "Liveness and database check", "produces": ["application/json"], "responses": {"200": {"description": "OK"}, "503": {"description": "Database unavailable"}}}
    },
    "/api/config/defaults": {
      "get": {"tags": ["config"], "summary": "Default simulation parameters", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}}
    },
    "/api/triage/explain": {
      "post": {"tags": ["triage"], "summary": "Classify symptoms and show the score vectors", "consumes": ["application/json"], "produces": ["application/json"], "responses": {"200": {"description": "OK"}, "400": {"description": "Invalid request"}}}
    },
    "/api/simulate": {
      "post": {"tags": ["simulation"], "summary": "Run one simulation", "consumes": ["application/json"], "produces": ["application/json"], "parameters": [{"name": "X-Admin-Key", "in": "header", "type": "string"}, {"name": "include_events", "in": "query", "type": "boolean"}], "responses": {"200": {"description": "OK"}, "400": {"description": "Invalid configuration"}, "401": {"description": "Invalid admin key"}, "500": {"description": "Invariant violation"}}}
    },
    "/api/runs/latest": {
      "get": {"tags": ["runs"], "summary": "Latest stored run", "produces": ["application/json"], "responses": {"200": {"description": "OK"}, "404": {"description": "No runs"}}}
    },
    "/api/runs/{id}/events": {
      "get": {"tags": ["runs"], "summary": "Event log of a stored run", "produces": ["application/json"], "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}, {"name": "type", "in": "query", "type": "string"}, {"name": "limit", "in": "query", "type": "integer"}, {"name": "offset", "in": "query", "type": "integer"}], "responses": {"200": {"description": "OK"}, "404": {"description": "Run not found"}}}
    }
  }
}`

func init() {
	swag.Register(swag.Name, &s{})
}

type s struct{}

func (s *s) ReadDoc() string {
	return docTemplate
}
