// Package domain errors.go contains sentinel errors
package domain

import "errors"

// Sentinel domain-level errors reused by higher layers.
var (
	// ErrAuthentication means a bearer token could not be obtained from an upstream.
	ErrAuthentication = errors.New("upstream authentication failed")
	// ErrUpstreamTimeout marks a single upstream request that exceeded its deadline.
	ErrUpstreamTimeout = errors.New("upstream request timed out")
	// ErrUpstreamRequest marks any other failed upstream request (transport or non-2xx).
	ErrUpstreamRequest = errors.New("upstream request failed")
	ErrInvalidQuery    = errors.New("invalid query")
	ErrNotFound        = errors.New("not found")
)

// ErrUnavailable means the operation depends on an upstream that is not configured.
var ErrUnavailable = errors.New("upstream not configured")
