// Package registration wires the built-in frontdoors into the registry.
package registration

import (
	"github.com/tjfontaine/matrix-webhook-bridge/internal/frontdoor/appservice"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/frontdoor/provisioning"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/frontdoor/webhook"
)

// DefaultFrontdoors lists the surfaces enabled when configuration names none.
var DefaultFrontdoors = []string{webhook.FrontdoorType, provisioning.FrontdoorType, appservice.FrontdoorType}

// RegisterBuiltins registers the built-in frontdoors explicitly. It is
// called from the runtime and tests before handlers are created, and is
// safe to call more than once.
func RegisterBuiltins() {
	webhook.RegisterFrontdoor()
	provisioning.RegisterFrontdoor()
	appservice.RegisterFrontdoor()
}
