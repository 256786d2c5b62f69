// Package docs registers the OpenAPI description served at /swagger.
// Regenerate with: swag init -g cmd/server/main.go
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
        "/session/create": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Create session",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/handlers.CreateSessionRequest"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handlers.SessionResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "402": {"description": "Payment Required", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/session/join": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Sessions"],
                "summary": "Join session",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/handlers.SessionIDRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SessionResponse"}}}
            }
        },
        "/session/connected": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Sessions"],
                "summary": "Mark session connected",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/handlers.SessionIDRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SessionResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/session/end": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Sessions"],
                "summary": "End session",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/handlers.EndSessionRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/models.SettlementLog"}}}
            }
        },
        "/session/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Sessions"],
                "summary": "Get session",
                "parameters": [{"type": "string", "in": "path", "name": "id", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SessionResponse"}}}
            }
        },
        "/session/{id}/settlement": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Sessions"],
                "summary": "Get session settlement",
                "parameters": [{"type": "string", "in": "path", "name": "id", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/models.SettlementLog"}}}
            }
        },
        "/signaling/events": {
            "post": {
                "tags": ["Signaling"],
                "summary": "Signaling webhook",
                "parameters": [
                    {"type": "string", "in": "header", "name": "X-Signaling-Secret", "required": true},
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/handlers.SignalingEventRequest"}}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/livestream/start": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Livestreams"],
                "summary": "Start livestream",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/handlers.StartLivestreamRequest"}}],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/models.Livestream"}}}
            }
        },
        "/livestream/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Livestreams"],
                "summary": "Get livestream",
                "parameters": [{"type": "string", "in": "path", "name": "id", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Livestream"}}}
            }
        },
        "/livestream/{id}/end": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Livestreams"],
                "summary": "End livestream",
                "parameters": [{"type": "string", "in": "path", "name": "id", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Livestream"}}}
            }
        },
        "/gift/send": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Gifts"],
                "summary": "Send gift",
                "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/handlers.SendGiftRequest"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/models.Gift"}},
                    "402": {"description": "Payment Required", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/wallet/topup": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Wallet"],
                "summary": "Top up wallet",
                "parameters": [
                    {"type": "string", "in": "header", "name": "Idempotency-Key"},
                    {"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/handlers.TopUpRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.WalletResponse"}}}
            }
        },
        "/wallet/{userId}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Wallet"],
                "summary": "Get wallet",
                "parameters": [{"type": "string", "in": "path", "name": "userId", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.WalletResponse"}}}
            }
        },
        "/wallet/{userId}/entries": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Wallet"],
                "summary": "List ledger entries",
                "parameters": [
                    {"type": "string", "in": "path", "name": "userId", "required": true},
                    {"type": "integer", "in": "query", "name": "limit"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/models.LedgerEntry"}}}}
            }
        },
        "/ws": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Events"],
                "summary": "Event stream",
                "responses": {"101": {"description": "Switching Protocols"}}
            }
        }
    },
    "definitions": {
        "handlers.CreateSessionRequest": {
            "type": "object",
            "required": ["clientId", "mode", "readerId"],
            "properties": {
                "clientId": {"type": "string"},
                "mode": {"type": "string", "enum": ["chat", "voice", "video"]},
                "readerId": {"type": "string"}
            }
        },
        "handlers.SessionIDRequest": {
            "type": "object",
            "required": ["sessionId"],
            "properties": {"sessionId": {"type": "string"}}
        },
        "handlers.EndSessionRequest": {
            "type": "object",
            "required": ["sessionId"],
            "properties": {
                "reason": {"type": "string", "enum": ["completed", "disconnected"]},
                "sessionId": {"type": "string"}
            }
        },
        "handlers.SignalingEventRequest": {
            "type": "object",
            "required": ["event", "sessionId"],
            "properties": {
                "event": {"type": "string", "enum": ["party_joined", "both_connected", "party_disconnected"]},
                "sessionId": {"type": "string"}
            }
        },
        "handlers.StartLivestreamRequest": {
            "type": "object",
            "required": ["durationMinutes", "readerId"],
            "properties": {
                "durationMinutes": {"type": "integer", "maximum": 1440, "minimum": 1},
                "readerId": {"type": "string"}
            }
        },
        "handlers.SendGiftRequest": {
            "type": "object",
            "required": ["amount", "livestreamId", "recipientId", "senderId"],
            "properties": {
                "amount": {"type": "integer"},
                "livestreamId": {"type": "string"},
                "recipientId": {"type": "string"},
                "senderId": {"type": "string"}
            }
        },
        "handlers.TopUpRequest": {
            "type": "object",
            "required": ["amount", "userId"],
            "properties": {
                "amount": {"type": "integer"},
                "idempotencyKey": {"type": "string"},
                "userId": {"type": "string"}
            }
        },
        "handlers.SessionResponse": {
            "type": "object",
            "properties": {
                "sessionId": {"type": "string"},
                "readerId": {"type": "string"},
                "clientId": {"type": "string"},
                "mode": {"type": "string"},
                "rate": {"type": "integer"},
                "rateDisplay": {"type": "string"},
                "state": {"type": "string"},
                "minutes": {"type": "integer"},
                "accumulatedAmount": {"type": "integer"},
                "accumulatedDisplay": {"type": "string"},
                "createdAt": {"type": "string"},
                "connectedAt": {"type": "string"},
                "lastTickAt": {"type": "string"},
                "endedAt": {"type": "string"},
                "settlement": {"$ref": "#/definitions/models.SettlementLog"}
            }
        },
        "handlers.WalletResponse": {
            "type": "object",
            "properties": {
                "userId": {"type": "string"},
                "role": {"type": "string"},
                "balance": {"type": "integer"},
                "balanceDisplay": {"type": "string"},
                "pendingEarnings": {"type": "integer"},
                "pendingEarningsDisplay": {"type": "string"},
                "earnings": {"type": "integer"},
                "earningsDisplay": {"type": "string"},
                "chatRate": {"type": "integer"},
                "voiceRate": {"type": "integer"},
                "videoRate": {"type": "integer"}
            }
        },
        "models.SettlementLog": {
            "type": "object",
            "properties": {
                "sessionId": {"type": "string"},
                "readerId": {"type": "string"},
                "clientId": {"type": "string"},
                "mode": {"type": "string"},
                "duration": {"type": "integer"},
                "totalAmount": {"type": "integer"},
                "readerShare": {"type": "integer"},
                "platformShare": {"type": "integer"},
                "status": {"type": "string"},
                "endReason": {"type": "string"},
                "createdAt": {"type": "string"}
            }
        },
        "models.Livestream": {
            "type": "object",
            "properties": {
                "livestreamId": {"type": "string"},
                "readerId": {"type": "string"},
                "status": {"type": "string", "enum": ["live", "ended"]},
                "startedAt": {"type": "string"},
                "scheduledEndAt": {"type": "string"},
                "endedAt": {"type": "string"}
            }
        },
        "models.Gift": {
            "type": "object",
            "properties": {
                "giftId": {"type": "string"},
                "senderId": {"type": "string"},
                "recipientId": {"type": "string"},
                "livestreamId": {"type": "string"},
                "amount": {"type": "integer"},
                "readerShare": {"type": "integer"},
                "platformShare": {"type": "integer"},
                "processed": {"type": "boolean"},
                "createdAt": {"type": "string"},
                "processedAt": {"type": "string"}
            }
        },
        "models.LedgerEntry": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "referenceId": {"type": "string"},
                "userId": {"type": "string"},
                "account": {"type": "string"},
                "entryType": {"type": "string", "enum": ["DEBIT", "CREDIT"]},
                "amount": {"type": "integer"},
                "balanceAfter": {"type": "integer"},
                "reason": {"type": "string"},
                "createdAt": {"type": "string"}
            }
        },
        "services.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "details": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Readerline Billing API",
	Description:      "Session billing and settlement engine for paid reader sessions and livestream gifts",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
