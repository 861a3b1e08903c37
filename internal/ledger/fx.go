package ledger

import (
	"github.com/smallbiznis/dojopay/internal/ledger/repository"
	"github.com/smallbiznis/dojopay/internal/ledger/settlement"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.repository",
	fx.Provide(repository.Provide),
	fx.Provide(settlement.New),
)
