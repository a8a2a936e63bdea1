// Package api defines the request and response types of the admin HTTP
// surface. Handlers live in the handlers subpackage.
package api
