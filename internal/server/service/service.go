// Package service contains the business logic behind the HTTP handlers that is not capsule delivery.
package service

// M is an arbitrary map.
type M map[string]any

// A Render is an arbitrary payload serializable in JSON by the API.
type Render any
