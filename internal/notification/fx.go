package notification

import (
	"github.com/smallbiznis/dojopay/internal/notification/email"
	"github.com/smallbiznis/dojopay/internal/notification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("notification",
	email.Module,
	fx.Provide(service.NewService),
)
