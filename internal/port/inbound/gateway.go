// Package inbound defines the inbound port interfaces for the gateway
// core. Inbound adapters (the HTTP transport) implement these.
package inbound

import (
	"context"
)

// GatewayService is the inbound port for the gateway transport.
type GatewayService interface {
	// Start begins serving client traffic. Blocks until the context is
	// cancelled or an error occurs. Returns nil on graceful shutdown.
	Start(ctx context.Context) error

	// Close gracefully shuts down the transport and drains in-flight
	// requests.
	Close() error
}
