// Package kintone is the outbound client for the host's REST API. Only the
// single-record update endpoint is used.
package kintone
