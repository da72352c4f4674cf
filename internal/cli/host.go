package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"quiz-sync/internal/app"
	"quiz-sync/internal/config"
	"quiz-sync/internal/domain"
	"quiz-sync/internal/game"
	"quiz-sync/internal/infra/memory"
	pgloader "quiz-sync/internal/infra/postgres"
	redissource "quiz-sync/internal/infra/redis"
	"quiz-sync/internal/infra/yamlfile"
	"quiz-sync/internal/transport/ws"
)

// packSource abstracts where question packs come from.
type packSource interface {
	GetPack(ctx context.Context, packID string) (domain.QuestionPack, error)
}

// NewHostCmd builds the subcommand that runs a session as host.
func NewHostCmd(configPath *string) *cobra.Command {
	var (
		port   string
		packID string
	)
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Host a quiz session and drive it from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHost(cmd.Context(), *configPath, port, packID)
		},
	}
	cmd.Flags().StringVar(&port, "port", os.Getenv("PORT"), "port to listen on (random if empty)")
	cmd.Flags().StringVar(&packID, "pack", "starter", "question pack to play")
	return cmd
}

func runHost(ctx context.Context, configPath, port, packID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := newLogger()

	source, cleanup, err := buildPackSource(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	pack, err := source.GetPack(ctx, packID)
	if err != nil {
		return fmt.Errorf("load pack %q: %w", packID, err)
	}
	if len(pack.Questions) == 0 {
		return fmt.Errorf("pack %q has no questions", packID)
	}

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	order := game.ShuffleQuestions(pack.Questions, rnd, cfg.Shuffle.MaxAttempts)

	addr := ""
	if port != "" {
		addr = ":" + port
	}
	tr, err := ws.ListenHost(ws.HostOptions{Addr: addr, Log: log})
	if err != nil {
		return err
	}

	machine := game.NewMachine(pack.Questions, order, cfg.ScoringConfig(), clockwork.NewRealClock(), log)
	session := app.NewHostSession(machine, tr, log)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := session.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("host session stopped")
		}
	}()
	defer session.Close()

	printJoinInfo(tr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
		_ = session.Close()
	}()

	return hostREPL(runCtx, session, log)
}

func printJoinInfo(tr *ws.HostTransport) {
	joinURL := ws.JoinURL("ws://"+tr.Addr(), tr.Code())
	fmt.Printf("\nSession code: %s\nListening on: %s\n", tr.Code(), tr.Addr())
	if qr, err := qrcode.New(joinURL, qrcode.Medium); err == nil {
		fmt.Println(qr.ToSmallString(false))
	}
	fmt.Println("Commands: start | advance | validate <player> correct|wrong | reset-buzzer | board | end | reset | quit")
}

func hostREPL(ctx context.Context, session *app.HostSession, log zerolog.Logger) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		var err error
		switch fields[0] {
		case "start":
			err = session.StartGame()
		case "advance", "next":
			err = session.Advance()
		case "validate":
			if len(fields) != 3 {
				fmt.Println("usage: validate <playerID> correct|wrong")
				continue
			}
			err = session.ValidateBuzzer(fields[1], fields[2] == "correct")
		case "reset-buzzer":
			err = session.ResetBuzzer()
		case "board":
			printScoreboard(session)
		case "end":
			err = session.EndGame()
		case "reset":
			err = session.Reset()
		case "quit", "exit":
			return nil
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
		if err != nil {
			log.Warn().Err(err).Str("command", fields[0]).Msg("command failed")
		}
	}
	return scanner.Err()
}

func printScoreboard(session *app.HostSession) {
	sb, err := session.Scoreboard()
	if err != nil {
		fmt.Println("scoreboard unavailable:", err)
		return
	}
	if p, err := session.Progress(); err == nil && p.Total > 0 {
		fmt.Printf("question %d of %d\n", p.Current, p.Total)
	}
	for i, e := range sb.Entries {
		fmt.Printf("%d. %s  %d\n", i+1, e.DisplayName, e.Score)
	}
}

// buildPackSource assembles the content pipeline: YAML files by default,
// Postgres when configured, with an optional Redis cache in front.
func buildPackSource(ctx context.Context, cfg config.Config, log zerolog.Logger) (packSource, func(), error) {
	cleanup := func() {}

	packsDir := cfg.Packs.Dir
	if packsDir == "" {
		packsDir = "packs"
	}
	var loader memory.PackLoader = yamlfile.NewLoader(packsDir)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return nil, nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		cleanup = pool.Close
		loader = pgloader.NewPackLoader(pool)
		log.Info().Msg("loading question packs from postgres")
	}

	ttl := config.Duration(cfg.Packs.TTL, 10*time.Minute)
	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		prev := cleanup
		cleanup = func() { _ = client.Close(); prev() }
		return redissource.NewPackSource(client, loader, ttl), cleanup, nil
	}
	return memory.NewPackSource(loader, ttl), cleanup, nil
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
}
