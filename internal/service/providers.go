package service

import "github.com/google/wire"

// ProviderSet groups the service layer's constructors for wire.
var ProviderSet = wire.NewSet(NewAuthManager, NewUsageRefresher)
