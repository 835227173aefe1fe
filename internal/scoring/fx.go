package scoring

import (
	"github.com/smallbiznis/referrals/internal/scoring/service"
	"go.uber.org/fx"
)

var Module = fx.Module("scoring.service",
	fx.Provide(service.New),
)
