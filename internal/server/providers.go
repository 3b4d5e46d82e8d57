package server

import "github.com/google/wire"

// ProviderSet groups the external HTTP surface's constructors for wire.
var ProviderSet = wire.NewSet(NewHandler, NewProxy, NewRouter)
