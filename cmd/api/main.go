package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/momscoder/expensesmanager/internal/config"
	"github.com/momscoder/expensesmanager/internal/server/api"
	"github.com/momscoder/expensesmanager/internal/server/auth"
	"github.com/momscoder/expensesmanager/internal/server/service"
	"github.com/momscoder/expensesmanager/internal/server/store"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ctx := context.Background()

	db, err := store.NewStore(ctx, cfg.DBSource, logger)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		log.Fatalf("Schema init failed: %v", err)
	}

	// Initialize Layers
	authSvc := auth.NewService(db, cfg.JWTSecret, logger)
	reconciler := service.NewReconciler(db, logger)
	handler := api.NewHandler(db, reconciler, authSvc, logger)

	// Router
	r := handler.Router()
	r.Handle("/metrics", promhttp.Handler())

	logger.Info("server starting", "port", cfg.Port, "env", cfg.Env)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}
