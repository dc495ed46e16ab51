// Package api implements the HTTP surface of the engine: feed lifecycle,
// refresh control and health. Handlers stay thin: decode and validate the
// request, call a service, map the result onto a response. Error mapping
// is centralized so internal error types never leak to clients.
package api
