// Package docs registers the zord OpenAPI description with swag.
// Regenerate with `swag init -g cmd/zordd/docs.go -o docs`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "license": {"name": "MIT", "url": "https://opensource.org/licenses/MIT"},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/": {
            "get": {
                "produces": ["application/json"],
                "tags": ["meta"],
                "summary": "API info",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.InfoResponse"}}}
            }
        },
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["meta"],
                "summary": "Health check",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.HealthResponse"}}}
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["meta"],
                "summary": "Engine status",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}}
            }
        },
        "/usage": {
            "get": {
                "description": "Counters for the caller identity (address plus X-Client-ID or User-Agent).",
                "produces": ["application/json"],
                "tags": ["generate"],
                "summary": "Caller usage",
                "parameters": [{"type": "string", "description": "client identifier", "name": "X-Client-ID", "in": "header"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.UsageSnapshot"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/generate": {
            "post": {
                "description": "Runs one generation against the caller's daily quota. With stream=true the\nresponse is NDJSON: {\"token\":...} lines then a final {\"done\":true,...} line.",
                "consumes": ["application/json"],
                "produces": ["application/json", "application/x-ndjson"],
                "tags": ["generate"],
                "summary": "Generate a response",
                "parameters": [
                    {"type": "string", "description": "client identifier", "name": "X-Client-ID", "in": "header"},
                    {"description": "generation request", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.GenerateRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.GenerateResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "504": {"description": "Gateway Timeout", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string", "example": "Message is required"},
                "code": {"type": "integer", "example": 400}
            }
        },
        "types.GenerateRequest": {
            "type": "object",
            "properties": {
                "prompt": {"type": "string", "example": "Write a Python function to calculate factorial"},
                "temperature": {"type": "number", "example": 0.7},
                "max_tokens": {"type": "integer", "example": 512},
                "reasoning": {"type": "boolean", "example": false},
                "stream": {"type": "boolean", "example": false}
            }
        },
        "types.GenerateResponse": {
            "type": "object",
            "properties": {
                "response": {"type": "string"},
                "tokens_generated": {"type": "integer", "example": 128},
                "model": {"type": "string", "example": "ZordCoder-v1"},
                "demo": {"type": "boolean"},
                "elapsed_ms": {"type": "integer", "example": 2140},
                "usage": {"$ref": "#/definitions/types.UsageSnapshot"}
            }
        },
        "types.UsageSnapshot": {
            "type": "object",
            "properties": {
                "message_count": {"type": "integer", "example": 3},
                "token_count": {"type": "integer", "example": 812},
                "daily_message_limit": {"type": "integer", "example": 50},
                "daily_token_limit": {"type": "integer", "example": 50000},
                "reset_at_unix": {"type": "integer", "example": 1700000000}
            }
        },
        "types.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "ok"},
                "model_loaded": {"type": "boolean", "example": true}
            }
        },
        "types.InfoResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "ok"},
                "message": {"type": "string", "example": "Zord Coder API v1"},
                "model_loaded": {"type": "boolean", "example": true},
                "model": {"type": "string", "example": "ZordCoder-v1"},
                "endpoints": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "state": {"type": "string", "example": "ready"},
                "model": {"type": "string", "example": "ZordCoder-v1"},
                "model_path": {"type": "string"},
                "backend": {"type": "string", "example": "llama"},
                "queue_len": {"type": "integer", "example": 0},
                "inflight": {"type": "integer", "example": 1},
                "max_queue_depth": {"type": "integer", "example": 32},
                "last_error": {"type": "string"},
                "uptime_seconds": {"type": "integer", "example": 3600},
                "server_time_unix": {"type": "integer", "example": 1700000000},
                "generations_total": {"type": "integer", "example": 12},
                "tokens_total": {"type": "integer", "example": 4096}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "zord API",
	Description:      "GGUF chat daemon with per-client daily quotas.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
