package versioning

import (
	"github.com/smallbiznis/entitlements/internal/versioning/service"
	"go.uber.org/fx"
)

var Module = fx.Module("versioning.service",
	fx.Provide(service.New),
)
