package grant

import (
	"github.com/openshelf/engage/internal/grant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("grant.store",
	fx.Provide(service.NewStore),
)
