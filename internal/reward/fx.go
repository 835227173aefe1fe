package reward

import (
	"github.com/smallbiznis/referrals/internal/reward/repository"
	"github.com/smallbiznis/referrals/internal/reward/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reward.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(service.ProvideDispatchMode),
	fx.Provide(service.NewDispatcher),
)
