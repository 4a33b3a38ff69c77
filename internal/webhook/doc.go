// Package webhook exposes the engine over HTTP.
//
//	POST /events   generic lifecycle envelope, answered with the changed fields
//	POST /webhook  host webhook payload (ADD_RECORD, UPDATE_RECORD)
//	GET  /healthz  liveness
//
// Every request passes through recover, request-log and request-id
// middleware. When a token is configured, /events and /webhook require it in
// the X-Kinrule-Token header.
package webhook
