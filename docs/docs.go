// Package docs holds the OpenAPI description served at /docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Health check",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.HealthResponse"}}}
            }
        },
        "/sources": {
            "get": {
                "produces": ["application/json"],
                "tags": ["sources"],
                "summary": "List all sources",
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["sources"],
                "summary": "Add a source",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/models.SourceConfig"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/models.SourceResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/sources/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["sources"],
                "summary": "Get source details",
                "parameters": [{"type": "string", "in": "path", "name": "id", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.SourceResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            },
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["sources"],
                "summary": "Replace a source configuration",
                "parameters": [
                    {"type": "string", "in": "path", "name": "id", "required": true},
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/models.SourceConfig"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/models.SourceResponse"}}}
            },
            "delete": {
                "tags": ["sources"],
                "summary": "Remove a source",
                "parameters": [{"type": "string", "in": "path", "name": "id", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SuccessResponse"}}}
            }
        },
        "/sources/{id}/ocr": {
            "post": {
                "produces": ["application/json"],
                "tags": ["ocr"],
                "summary": "Run OCR",
                "parameters": [{"type": "string", "in": "path", "name": "id", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.RunResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/sources/{id}/snapshot/frame": {
            "get": {
                "produces": ["image/jpeg"],
                "tags": ["snapshots"],
                "summary": "Get processed frame",
                "parameters": [
                    {"type": "string", "in": "path", "name": "id", "required": true},
                    {"type": "boolean", "in": "query", "name": "ocr"},
                    {"type": "boolean", "in": "query", "name": "fresh"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"type": "file"}}}
            }
        },
        "/results": {
            "get": {
                "produces": ["application/json"],
                "tags": ["ocr"],
                "summary": "List stored results",
                "responses": {"200": {"description": "OK", "schema": {"type": "object", "additionalProperties": {"$ref": "#/definitions/models.OcrDocument"}}}}
            }
        },
        "/jobs": {
            "get": {
                "produces": ["application/json"],
                "tags": ["ocr"],
                "summary": "List scheduled jobs",
                "responses": {"200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/scheduler.JobInfo"}}}}
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string", "example": "source not found: meter-1"}}
        },
        "handlers.SuccessResponse": {
            "type": "object",
            "properties": {"message": {"type": "string", "example": "Source removed"}}
        },
        "handlers.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "healthy"},
                "worker_id": {"type": "string", "example": "worker-1"},
                "sources": {"type": "integer", "example": 3}
            }
        },
        "handlers.RunResponse": {
            "type": "object",
            "properties": {
                "source_id": {"type": "string"},
                "outcome": {"type": "string", "example": "accepted"},
                "document": {"$ref": "#/definitions/models.OcrDocument"}
            }
        },
        "models.RegionBox": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "top": {"type": "integer"},
                "left": {"type": "integer"},
                "width": {"type": "integer"},
                "height": {"type": "integer"}
            }
        },
        "models.SourceConfig": {
            "type": "object",
            "required": ["uri"],
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "uri": {"type": "string"},
                "processing_settings": {"type": "object"},
                "ocr_settings": {"type": "object"},
                "region_boxes": {"type": "array", "items": {"$ref": "#/definitions/models.RegionBox"}},
                "scheduling_settings": {"type": "object"}
            }
        },
        "models.SourceResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "uri": {"type": "string"},
                "status": {"type": "string", "example": "OK"},
                "ocr_running": {"type": "boolean"},
                "aggregate": {"$ref": "#/definitions/models.OcrAggregate"}
            }
        },
        "models.RegionResult": {
            "type": "object",
            "properties": {
                "box_id": {"type": "string"},
                "text": {"type": "string"},
                "confidence": {"type": "number"}
            }
        },
        "models.OcrAggregate": {
            "type": "object",
            "properties": {
                "value": {"type": "number"},
                "confidence": {"type": "number"},
                "timestamp": {"type": "string"},
                "imageFingerprint": {"type": "string"}
            }
        },
        "models.OcrDocument": {
            "type": "object",
            "properties": {
                "results": {"type": "array", "items": {"$ref": "#/definitions/models.RegionResult"}},
                "aggregate": {"$ref": "#/definitions/models.OcrAggregate"}
            }
        },
        "scheduler.JobInfo": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "source_id": {"type": "string"},
                "trigger": {"type": "string", "example": "cron[*/5 * * * *]"},
                "next_run_time": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "localhost:8000",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "StreamOCR Worker API",
	Description:      "Reads numeric values from camera streams and images: region OCR, cron scheduling and guarded result storage",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
