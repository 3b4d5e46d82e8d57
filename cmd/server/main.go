// Command server runs the Codex account pool load balancer: the external
// HTTP surface plus the streaming responses proxy, in front of the single
// upstream ChatGPT-compatible service.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ssh352/codex-lb-sub001/internal/server"
)

func main() {
	app, err := initializeApplication()
	if err != nil {
		log.Fatalf("initialize application: %v", err)
	}

	httpServer := &http.Server{
		Addr:    app.Addr,
		Handler: server.NewRouter(app.Router),
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	app.Cleanup()
}
