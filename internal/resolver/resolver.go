package resolver

import (
	"context"

	api_types "barter/api-types"
	"barter/internal/hub"
	"barter/internal/service"
)

type Resolver interface {
	// credit endpoints
	GetBarterCredit() api_types.BarterCreditResponse
	RefreshBarterCredit(ctx context.Context) (*api_types.RefreshResponse, error)
	Convert(req api_types.ConvertRequest) (*api_types.ConvertResponse, error)

	// ops endpoints
	GetUsage() (*api_types.UsageResponse, error)
	Health() api_types.HealthResponse

	// live updates
	SubscribeEvents(buffer int) (hub.Token, <-chan hub.Event)
	UnsubscribeEvents(token hub.Token)
	StreamEvent(e hub.Event) api_types.StreamEvent
}

type resolverHandler struct {
	CreditService service.CreditService
}

func NewResolver(creditService service.CreditService) Resolver {
	return resolverHandler{
		CreditService: creditService,
	}
}
