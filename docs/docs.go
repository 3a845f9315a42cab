// Package docs registers the OpenAPI document served at /swagger/*.
//
// Regenerate with: swag init -g cmd/tracking-relay/main.go -o docs
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
        "/auth/login": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Login",
                "parameters": [
                    {"description": "Login credentials", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.loginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.authResponse"}},
                    "400": {"description": "Bad Request"},
                    "401": {"description": "Unauthorized"}
                }
            }
        },
        "/auth/register": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Register a new user",
                "parameters": [
                    {"description": "User registration details", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.registerRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handler.authResponse"}},
                    "400": {"description": "Bad Request"},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/v1/drivers/{driver_id}/location": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["locations"],
                "summary": "Get a driver's last accepted position",
                "parameters": [{"type": "string", "description": "Driver id", "name": "driver_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.DriverLocation"}},
                    "404": {"description": "Not Found"}
                }
            }
        },
        "/v1/locations": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["locations"],
                "summary": "Report the caller's current position",
                "parameters": [
                    {"description": "Position sample", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.locationRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted"},
                    "400": {"description": "Bad Request"},
                    "422": {"description": "Unprocessable Entity"}
                }
            }
        },
        "/v1/parcels/{parcel_id}/accept": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["parcels"],
                "summary": "Accept a parcel and start tracking it",
                "parameters": [
                    {"type": "string", "description": "Parcel id", "name": "parcel_id", "in": "path", "required": true},
                    {"description": "Assignment details", "name": "body", "in": "body", "schema": {"$ref": "#/definitions/handler.acceptRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.ParcelTracking"}},
                    "403": {"description": "Forbidden"},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/v1/parcels/{parcel_id}/history": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["parcels"],
                "summary": "List the status changes of a parcel",
                "parameters": [{"type": "string", "description": "Parcel id", "name": "parcel_id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/v1/parcels/{parcel_id}/milestones": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["parcels"],
                "summary": "Advance a parcel to its next status",
                "parameters": [
                    {"type": "string", "description": "Parcel id", "name": "parcel_id", "in": "path", "required": true},
                    {"description": "Target status", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.transitionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.ParcelTracking"}},
                    "404": {"description": "Not Found"},
                    "422": {"description": "Unprocessable Entity"}
                }
            }
        },
        "/v1/parcels/{parcel_id}/route.geojson": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/geo+json"],
                "tags": ["parcels"],
                "summary": "Export the route of a parcel as a GeoJSON feature",
                "parameters": [{"type": "string", "description": "Parcel id", "name": "parcel_id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/v1/parcels/{parcel_id}/tracking": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["parcels"],
                "summary": "Get the tracking snapshot of a parcel",
                "parameters": [{"type": "string", "description": "Parcel id", "name": "parcel_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.ParcelTracking"}},
                    "404": {"description": "Not Found"}
                }
            }
        },
        "/v1/ws": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Upgrades to a WebSocket carrying JSON frames {type, parcelId, data, error}.",
                "tags": ["realtime"],
                "summary": "Open the tracking event channel",
                "parameters": [{"type": "string", "description": "JWT when the Authorization header cannot be set", "name": "token", "in": "query"}],
                "responses": {"101": {"description": "Switching Protocols"}, "401": {"description": "Unauthorized"}}
            }
        }
    },
    "definitions": {
        "domain.Location": {
            "type": "object",
            "properties": {
                "latitude": {"type": "number"},
                "longitude": {"type": "number"},
                "timestamp": {"type": "string"},
                "accuracy": {"type": "number"},
                "suspect": {"type": "boolean"}
            }
        },
        "domain.DriverLocation": {
            "type": "object",
            "properties": {
                "driverId": {"type": "string"},
                "parcelId": {"type": "string"},
                "latitude": {"type": "number"},
                "longitude": {"type": "number"},
                "timestamp": {"type": "string"},
                "accuracy": {"type": "number"},
                "heading": {"type": "number"},
                "speed": {"type": "number"},
                "suspect": {"type": "boolean"}
            }
        },
        "domain.TrackingMilestone": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "status": {"type": "string"},
                "title": {"type": "string"},
                "description": {"type": "string"},
                "timestamp": {"type": "string"},
                "location": {"$ref": "#/definitions/domain.Location"},
                "completed": {"type": "boolean"}
            }
        },
        "domain.ParcelTracking": {
            "type": "object",
            "properties": {
                "parcelId": {"type": "string"},
                "driverId": {"type": "string"},
                "currentLocation": {"$ref": "#/definitions/domain.Location"},
                "destination": {"$ref": "#/definitions/domain.Location"},
                "route": {"type": "array", "items": {"$ref": "#/definitions/domain.Location"}},
                "status": {"type": "string", "enum": ["accepted", "picked-up", "in-transit", "delivered"]},
                "estimatedArrival": {"type": "string"},
                "milestones": {"type": "array", "items": {"$ref": "#/definitions/domain.TrackingMilestone"}},
                "version": {"type": "integer"},
                "updatedAt": {"type": "string"}
            }
        },
        "handler.acceptRequest": {
            "type": "object",
            "properties": {
                "driverId": {"type": "string"},
                "destination": {"$ref": "#/definitions/handler.pointRequest"}
            }
        },
        "handler.authResponse": {
            "type": "object",
            "properties": {"token": {"type": "string"}, "user": {"type": "object"}}
        },
        "handler.locationRequest": {
            "type": "object",
            "properties": {
                "latitude": {"type": "number"},
                "longitude": {"type": "number"},
                "timestamp": {"type": "string"},
                "accuracy": {"type": "number"},
                "parcelId": {"type": "string"},
                "heading": {"type": "number"},
                "speed": {"type": "number"}
            }
        },
        "handler.loginRequest": {
            "type": "object",
            "properties": {"username": {"type": "string"}, "password": {"type": "string"}}
        },
        "handler.pointRequest": {
            "type": "object",
            "properties": {"latitude": {"type": "number"}, "longitude": {"type": "number"}}
        },
        "handler.registerRequest": {
            "type": "object",
            "properties": {
                "username": {"type": "string"},
                "password": {"type": "string"},
                "email": {"type": "string"},
                "role": {"type": "string", "enum": ["driver", "sender", "admin"]}
            }
        },
        "handler.transitionRequest": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["picked-up", "in-transit", "delivered"]},
                "location": {"$ref": "#/definitions/handler.pointRequest"}
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
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Tracking Relay API",
	Description:      "Real-time parcel tracking relay: location ingest, milestones and live fan-out.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
