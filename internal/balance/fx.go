package balance

import (
	"github.com/smallbiznis/unitledger/internal/balance/repository"
	"github.com/smallbiznis/unitledger/internal/balance/service"
	"go.uber.org/fx"
)

var Module = fx.Module("balance.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
