package main

import (
	"context"
	"log/slog"
	"os"

	"soyosaki-backend/cmd/soyosaki-cli/commands"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	commands.ExecuteContext(context.Background())
}
