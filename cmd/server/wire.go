//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/ssh352/codex-lb-sub001/internal/config"
	"github.com/ssh352/codex-lb-sub001/internal/repository"
	"github.com/ssh352/codex-lb-sub001/internal/server"
	"github.com/ssh352/codex-lb-sub001/internal/service"
)

// Application is the fully-wired process: an HTTP handler ready to serve,
// plus a cleanup func releasing pooled resources.
type Application struct {
	Addr    string
	Router  *server.Handler
	Cleanup func()
}

// initializeApplication wires config through repository/service/server.
// This file only documents the dependency graph; cmd/server/wire_gen.go is
// the hand-authored equivalent actually compiled in, since wire is never
// run in this build.
func initializeApplication() (*Application, error) {
	wire.Build(
		config.ProviderSet,
		repository.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		wire.Struct(new(Application), "Addr", "Router", "Cleanup"),
	)
	return nil, nil
}
