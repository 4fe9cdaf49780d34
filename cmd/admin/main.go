// Operator tool for the dead-letter queue: list dead jobs and push replay
// requests the running service picks up.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/rwalabs/chainsync/internal/core/config"
	"github.com/rwalabs/chainsync/internal/core/domain"
	redisclient "github.com/rwalabs/chainsync/internal/infra/redis"
	"github.com/rwalabs/chainsync/internal/infra/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	limit := flag.Int("limit", 50, "Max dead jobs to list")
	replay := flag.String("replay", "", "Push a replay request, formatted txHash:eventType")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("load config: %v", err)
	}
	ctx := context.Background()

	if *replay != "" {
		pushReplay(ctx, cfg, *replay)
		return
	}
	listDead(ctx, cfg, *limit)
}

func listDead(ctx context.Context, cfg *config.AppConfig, limit int) {
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		fatal("connect database: %v", err)
	}
	defer db.Close()

	jobs, err := postgres.NewJobRepo(db).ListDead(ctx, limit)
	if err != nil {
		fatal("list dead jobs: %v", err)
	}
	if len(jobs) == 0 {
		fmt.Println("no dead jobs")
		return
	}
	for _, j := range jobs {
		fmt.Printf("%s  %-20s  attempts=%d  tx=%s\n  last error: %s\n",
			j.CreatedAt.Format("2006-01-02 15:04:05"),
			j.EventType, j.Attempts, j.TxHash, j.LastError)
	}
	fmt.Printf("%d dead job(s)\n", len(jobs))
}

func pushReplay(ctx context.Context, cfg *config.AppConfig, request string) {
	txHash, eventType, ok := strings.Cut(request, ":")
	if !ok || txHash == "" || eventType == "" {
		fatal("malformed replay request %q, want txHash:eventType", request)
	}

	client, err := redisclient.NewClient(ctx, cfg.Redis)
	if err != nil {
		fatal("connect redis: %v", err)
	}
	defer client.Close()

	queue := redisclient.NewReplayQueue(client)
	if err := queue.Push(ctx, txHash, domain.EventType(eventType)); err != nil {
		fatal("push replay request: %v", err)
	}
	fmt.Printf("replay requested for %s/%s\n", txHash, eventType)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
