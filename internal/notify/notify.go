// Package notify holds the notification transport implementations. Each
// transport interprets the opaque endpoint token for its platform and makes
// exactly one delivery attempt; retry policy is deliberately absent.
package notify

import (
	"context"

	"remindd/internal/contract"
	"remindd/internal/models"
)

// Registry maps endpoint platforms to transports.
type Registry map[string]contract.Transport

// Deliver routes one notification to the transport for the endpoint's
// platform.
func (r Registry) Deliver(ctx context.Context, endpoint *models.Endpoint, title, body string, metadata map[string]string) error {
	transport, ok := r[endpoint.Platform]
	if !ok {
		return &UnknownPlatformError{Platform: endpoint.Platform}
	}
	return transport.Deliver(ctx, endpoint, title, body, metadata)
}

type UnknownPlatformError struct {
	Platform string
}

func (e *UnknownPlatformError) Error() string {
	return "no transport configured for platform " + e.Platform
}
