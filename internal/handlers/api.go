package handlers

import (
	"github.com/pulseboard/pulseboard/internal/deadletter"
	"github.com/pulseboard/pulseboard/internal/gateway"
	"github.com/pulseboard/pulseboard/internal/governor"
	"github.com/pulseboard/pulseboard/internal/hub"
)

// API bundles the components the HTTP layer fronts. Constructed once in main
// and shared by all routes.
type API struct {
	Gateway *gateway.Gateway
	Gov     *governor.Governor
	Queue   *deadletter.Queue
	Hub     *hub.Hub
}
