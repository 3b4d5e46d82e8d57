package repository

import "github.com/google/wire"

// ProviderSet groups this package's unambiguous constructors for wire. The
// Account/UsageHistory/DashboardSettings stores additionally need a driver
// string selecting the SQL dialect, which cmd/server's hand-authored
// wire_gen.go supplies explicitly rather than through this set (wire can't
// disambiguate two string providers on its own).
var ProviderSet = wire.NewSet(OpenDB, NewRedisClient, NewBalancerCache)
