package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Estate ERP Query & Export API",
        "description": "Permission-scoped entity queries and CSV/XLSX/PDF exports",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": ["http", "https"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Query", "description": "Scoped entity listings and filter resolution"},
        {"name": "Exports", "description": "Synchronous and background exports"}
    ],
    "paths": {
        "/query/{entity}": {
            "post": {
                "tags": ["Query"],
                "summary": "List one page of an entity",
                "parameters": [
                    {"name": "entity", "in": "path", "required": true, "type": "string"},
                    {"name": "body", "in": "body", "schema": {"$ref": "#/definitions/FilterPayload"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid filter payload", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Missing or invalid token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/query/{entity}/resolve": {
            "post": {
                "tags": ["Query"],
                "summary": "Explain the predicate a payload resolves to (elevated only)",
                "parameters": [
                    {"name": "entity", "in": "path", "required": true, "type": "string"},
                    {"name": "body", "in": "body", "schema": {"$ref": "#/definitions/FilterPayload"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Caller is not elevated", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exports": {
            "post": {
                "tags": ["Exports"],
                "summary": "Render an export synchronously",
                "produces": ["text/csv", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/pdf"],
                "parameters": [
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ExportRequest"}}
                ],
                "responses": {
                    "200": {"description": "Export file", "schema": {"type": "file"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Scope ALL requires elevated permission", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "413": {"description": "Too many rows for a synchronous export", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "No rows match", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exports/count": {
            "post": {
                "tags": ["Exports"],
                "summary": "Count the rows an export would contain",
                "parameters": [
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ExportRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exports/jobs": {
            "post": {
                "tags": ["Exports"],
                "summary": "Queue a background export",
                "parameters": [
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ExportRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "get": {
                "tags": ["Exports"],
                "summary": "List the caller's export jobs",
                "parameters": [
                    {"name": "entity", "in": "query", "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exports/jobs/{id}": {
            "get": {
                "tags": ["Exports"],
                "summary": "Export job status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown job or not the owner", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exports/download/{token}": {
            "get": {
                "tags": ["Exports"],
                "summary": "Download a finished export",
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Export file", "schema": {"type": "file"}},
                    "403": {"description": "Invalid or expired link", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "FilterPayload": {
            "type": "object",
            "properties": {
                "ids": {"type": "array", "items": {"type": "string"}},
                "codes": {"type": "array", "items": {"type": "string"}},
                "trx_ids": {"type": "array", "items": {"type": "string"}},
                "status": {"type": "array", "items": {"type": "string"}},
                "priority": {"type": "array", "items": {"type": "string"}},
                "stage": {"type": "array", "items": {"type": "string"}},
                "lifecycle": {"type": "array", "items": {"type": "string"}},
                "assigned_to": {"type": "array", "items": {"type": "string"}},
                "team": {"type": "array", "items": {"type": "string"}},
                "department": {"type": "array", "items": {"type": "string"}},
                "dealer": {"type": "array", "items": {"type": "string"}},
                "agent": {"type": "array", "items": {"type": "string"}},
                "created_by": {"type": "array", "items": {"type": "string"}},
                "approved_by": {"type": "array", "items": {"type": "string"}},
                "amount": {"$ref": "#/definitions/Range"},
                "balance": {"$ref": "#/definitions/Range"},
                "debit": {"$ref": "#/definitions/Range"},
                "credit": {"$ref": "#/definitions/Range"},
                "tax": {"$ref": "#/definitions/Range"},
                "has_related": {"type": "array", "items": {"type": "object", "properties": {"type": {"type": "string"}, "id": {"type": "string"}}}},
                "missing_related": {"type": "array", "items": {"type": "string"}},
                "date": {
                    "type": "object",
                    "properties": {
                        "field": {"type": "string"},
                        "preset": {"type": "string", "enum": ["today", "last_7_days", "month_to_date", "quarter", "last_month", "this_year", "custom"]},
                        "from": {"type": "string"},
                        "to": {"type": "string"}
                    }
                },
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "sort": {
                    "type": "object",
                    "properties": {
                        "field": {"type": "string"},
                        "direction": {"type": "string", "enum": ["asc", "desc"]}
                    }
                },
                "search": {"type": "string"}
            }
        },
        "Range": {
            "type": "object",
            "properties": {
                "min": {"type": "number"},
                "max": {"type": "number"}
            }
        },
        "ExportRequest": {
            "type": "object",
            "required": ["entity", "scope"],
            "properties": {
                "entity": {"type": "string"},
                "format": {"type": "string", "enum": ["csv", "xlsx", "pdf"]},
                "scope": {"type": "string", "enum": ["VIEW", "FILTERED", "ALL"]},
                "columns": {"type": "array", "items": {"type": "string"}},
                "filters": {"$ref": "#/definitions/FilterPayload"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "details": {"type": "array", "items": {"type": "string"}},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
