package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/lmittmann/tint"

	"idz2_opt/internal/server"
)

func main() {
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: "15:04:05",
		}),
	))

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}

	router := server.NewRouter()
	slog.Info("сервер запущен", "addr", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		slog.Error("сервер остановлен", "err", err)
		os.Exit(1)
	}
}
