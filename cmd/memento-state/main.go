// memento-state inspects a memento data directory without running the
// server. Read-only: it opens the same SQLite files the server uses.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/vthunder/memento/internal/config"
	"github.com/vthunder/memento/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("MEMENTO_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "memento.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "store error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	cmd := os.Args[1]
	switch cmd {
	case "summary":
		handleSummary(st)
	case "backlog":
		handleBacklog(st)
	case "loops":
		handleLoops(st, cfg, os.Args[2:])
	case "frames":
		handleFrames(st, cfg, os.Args[2:])
	case "patterns":
		handlePatterns(st, cfg, os.Args[2:])
	case "fingerprints":
		handleFingerprints(st)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`memento-state - Inspect memento's stored state

Usage: memento-state <command> [options]

Commands:
  summary              Row counts across all collections
  backlog              Memories waiting for vector indexing
  loops [-user u]      Open loops, soonest deadline first
  frames [-user u]     Device context frames
  patterns [-user u]   Observed patterns with confidence and status
  fingerprints         Behavioral fingerprints and sample counts

Config comes from MEMENTO_CONFIG / MEMENTO_* env, same as the server.`)
}

func handleSummary(st *store.Store) {
	counts, err := st.Stats()
	if err != nil {
		fatal(err)
	}
	printJSON(counts)
}

func handleBacklog(st *store.Store) {
	pending, err := st.ListVectorPending(context.Background(), 100)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("%d memories pending vector indexing\n", len(pending))
	for _, m := range pending {
		fmt.Printf("  %s  %s  created %s\n", m.ID, truncate(m.Text, 60), m.CreatedAt.Format(time.RFC3339))
	}
}

func handleLoops(st *store.Store, cfg config.Config, args []string) {
	user := userFlag(cfg, "loops", args)
	loops, err := st.FindLoops(context.Background(), store.LoopFilter{User: user})
	if err != nil {
		fatal(err)
	}
	if len(loops) == 0 {
		fmt.Printf("no open loops for %s\n", user)
		return
	}
	for _, l := range loops {
		due := "no deadline"
		if l.DueDate != nil {
			due = "due " + l.DueDate.Format("2006-01-02")
		}
		fmt.Printf("  [%s] %s (%s, %s)\n", l.Owner, l.Description, l.OtherParty, due)
	}
}

func handleFrames(st *store.Store, cfg config.Config, args []string) {
	user := userFlag(cfg, "frames", args)
	frames, err := st.ListFrames(context.Background(), user)
	if err != nil {
		fatal(err)
	}
	if len(frames) == 0 {
		fmt.Printf("no context frames for %s\n", user)
		return
	}
	printJSON(frames)
}

func handlePatterns(st *store.Store, cfg config.Config, args []string) {
	user := userFlag(cfg, "patterns", args)
	patterns, err := st.ListPatterns(context.Background(), user, "")
	if err != nil {
		fatal(err)
	}
	if len(patterns) == 0 {
		fmt.Printf("no patterns for %s\n", user)
		return
	}
	for _, p := range patterns {
		fmt.Printf("  [%s] %-9s conf=%.2f count=%d key=%s\n", p.ID[:8], p.Status, p.Confidence, p.Count, p.FeatureKey)
	}
}

func handleFingerprints(st *store.Store) {
	fps, err := st.ListFingerprints(context.Background())
	if err != nil {
		fatal(err)
	}
	if len(fps) == 0 {
		fmt.Println("no fingerprints")
		return
	}
	for _, f := range fps {
		fmt.Printf("  %-20s samples=%d updated %s\n", f.User, f.SampleCount, f.LastUpdated.Format(time.RFC3339))
	}
	stats, err := st.PredictionAccuracy(context.Background())
	if reviewed := stats.Confirmed + stats.Corrected; err == nil && reviewed > 0 {
		fmt.Printf("prediction accuracy: %.0f%% over %d reviewed\n", float64(stats.Confirmed)/float64(reviewed)*100, reviewed)
	}
}

func userFlag(cfg config.Config, name string, args []string) string {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	user := fs.String("user", cfg.DefaultUser, "user to inspect")
	fs.Parse(args)
	return *user
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(data))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
