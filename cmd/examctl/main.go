package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/auth"
	"github.com/stemsi/exstem-client/internal/client"
	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/logger"
	"github.com/stemsi/exstem-client/internal/model"
	"golang.org/x/term"
)

func main() {
	cfg := config.Load()

	var (
		count      = flag.Int("n", cfg.QuestionCount, "Number of questions")
		category   = flag.String("category", cfg.Category, "Question category filter")
		difficulty = flag.String("difficulty", cfg.Difficulty, "Difficulty filter (easy, medium, hard)")
	)
	flag.Usage = printUsage
	flag.Parse()

	// stdout belongs to the exam screen.
	log := logger.SetupTo(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	sc, err := sessionContext(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("No bearer token")
	}
	defer sc.Logout()

	api := client.New(cfg.APIBaseURL, sc,
		client.WithTimeout(cfg.HTTPTimeout),
		client.WithLogger(log),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command := "run"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	switch command {
	case "run":
		opts := model.StartOptions{
			QuestionCount: *count,
			Category:      *category,
			Difficulty:    model.Difficulty(*difficulty),
		}
		t := newTerminal(os.Stdin, os.Stdout, log)
		if err := t.Run(ctx, api, opts, cfg.AnswerSyncSize); err != nil {
			log.Error().Err(err).Msg("Exam session ended with an error")
			os.Exit(1)
		}
	case "history":
		if err := printHistory(ctx, api, log); err != nil {
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(2)
	}
}

// sessionContext uses EXAM_API_TOKEN or prompts for a token without echo.
func sessionContext(cfg *config.Config) (*auth.SessionContext, error) {
	token := cfg.APIToken
	if token == "" {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return nil, errors.New("EXAM_API_TOKEN is not set and stdin is not a terminal")
		}
		fmt.Fprint(os.Stderr, "Bearer token: ")
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("read token: %w", err)
		}
		token = strings.TrimSpace(string(raw))
	}
	return auth.NewSessionContext(token)
}

func printHistory(ctx context.Context, api *client.ExamClient, log zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	entries, err := api.History(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch exam history")
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No completed exams yet.")
		return nil
	}
	for _, e := range entries {
		score := "-"
		if e.Score != nil {
			score = fmt.Sprintf("%.1f%%", *e.Score)
		}
		fmt.Printf("%s  %-10s  %2d questions  score %s  started %s\n",
			e.ID, e.Status, len(e.Questions), score, e.StartedAt)
	}
	return nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: examctl [flags] [run|history]")
	fmt.Fprintln(os.Stderr, "Flags:")
	flag.PrintDefaults()
}
