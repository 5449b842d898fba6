package routes

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/qwatch/pkg/qrun"
	"github.com/quatton/qwatch/pkg/qsim"
)

type MetaOutput struct {
	Body qrun.Meta
}

func RegisterMeta(api huma.API, engine *qsim.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-meta",
		Method:      http.MethodGet,
		Path:        "/api/meta",
		Summary:     "Model metadata",
		Description: "Variant, model version, input fields with defaults and the stage catalog",
		Tags:        []string{TagMeta.String()},
	}, func(ctx context.Context, input *struct{}) (*MetaOutput, error) {
		if engine == nil {
			return nil, huma.Error503ServiceUnavailable("simulator not configured")
		}
		return &MetaOutput{Body: engine.Meta()}, nil
	})
}
