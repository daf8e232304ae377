// Command chat talks to the bot from a terminal, without Telegram.
// "/upload <path>" sends a local file as if it were a Telegram document.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"ragout-bot/internal/bootstrap"
	"ragout-bot/internal/config"
	"ragout-bot/internal/entity"

	"github.com/fatih/color"
)

const consoleUser = entity.UserID("console")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := config.Load()
	cfg.Telegram.Mode = "disabled"

	container, err := bootstrap.NewContainer(ctx, cfg)
	if err != nil {
		color.Red("Bootstrap failed: %v", err)
		os.Exit(1)
	}
	defer container.Close()

	if err := container.CleanupService.Consume(ctx); err != nil {
		color.Red("Cleanup consumer failed: %v", err)
		os.Exit(1)
	}

	color.Yellow("Indexing %s ...", cfg.App.BookPath)
	if err := bootstrap.LoadBook(ctx, cfg.App.BookPath, container.Knowledge, container.Logger, cfg.App.ReindexBook); err != nil {
		color.Red("Book not loaded: %v", err)
	}

	bot := container.Dispatcher
	color.Cyan("%s", bot.OnStart(ctx, consoleUser))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(color.GreenString("you> "))
		if !scanner.Scan() || ctx.Err() != nil {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return
		}

		var reply string
		if path, ok := strings.CutPrefix(line, "/upload "); ok {
			path = strings.TrimSpace(path)
			raw, err := os.ReadFile(path)
			if err != nil {
				color.Red("cannot read %s: %v", path, err)
				continue
			}
			reply = bot.OnDocumentUploaded(ctx, consoleUser, filepath.Base(path), raw)
		} else {
			reply = bot.Route(ctx, consoleUser, line)
		}
		color.Cyan("bot> %s", reply)
	}
}
