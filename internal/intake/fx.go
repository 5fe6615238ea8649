package intake

import (
	"github.com/openshelf/engage/internal/intake/service"
	"go.uber.org/fx"
)

var Module = fx.Module("intake.service",
	fx.Provide(service.NewService),
)
