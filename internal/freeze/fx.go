package freeze

import (
	"github.com/smallbiznis/dojopay/internal/freeze/service"
	"go.uber.org/fx"
)

var Module = fx.Module("freeze.service",
	fx.Provide(service.NewService),
)
