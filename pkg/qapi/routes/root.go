package routes

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/qwatch/pkg/qapi/services"
)

// RegisterAPI registers every route. With nil services the routes exist for
// the OpenAPI document but answer 503.
func RegisterAPI(api huma.API, svcs *services.Services) {
	if svcs == nil || svcs.Engine == nil {
		RegisterHealth(api, "")
		RegisterMeta(api, nil)
		RegisterRuns(api, nil)
		RegisterHistory(api, nil)
		return
	}
	RegisterHealth(api, svcs.Engine.Catalog().Variant)
	RegisterMeta(api, svcs.Engine)
	RegisterRuns(api, svcs.Engine)

	// a nil *db.History must stay a nil interface
	var history HistoryReader
	if svcs.History != nil {
		history = svcs.History
	}
	RegisterHistory(api, history)
}
