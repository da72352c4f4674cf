package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"quiz-sync/internal/app"
	"quiz-sync/internal/config"
	"quiz-sync/internal/domain"
	"quiz-sync/internal/transport/ws"
)

// NewPlayerCmd builds the subcommand that joins a session as a player.
func NewPlayerCmd(configPath *string) *cobra.Command {
	var (
		hostURL string
		code    string
		name    string
		avatar  string
	)
	cmd := &cobra.Command{
		Use:   "player",
		Short: "Join a quiz session and play from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if code == "" || name == "" {
				return fmt.Errorf("--code and --name are required")
			}
			return runPlayer(cmd.Context(), *configPath, hostURL, code, name, avatar)
		},
	}
	cmd.Flags().StringVar(&hostURL, "url", "ws://localhost:8080", "host base URL")
	cmd.Flags().StringVar(&code, "code", "", "session code from the host screen")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&avatar, "avatar", "", "avatar reference")
	return cmd
}

func runPlayer(ctx context.Context, configPath, hostURL, code, name, avatar string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := newLogger()

	playerID := uuid.New().String()
	handshake := config.Duration(cfg.Session.HandshakeTimeout, ws.DefaultHandshakeTimeout)

	tr, err := ws.Dial(ctx, hostURL, code, playerID, handshake)
	if err != nil {
		return err
	}

	session := app.NewPlayerSession(tr, playerID, name, avatar, app.PlayerOptions{
		Log:            log,
		ConfirmTimeout: config.Duration(cfg.Session.ConfirmTimeout, app.DefaultConfirmTimeout),
	})
	defer session.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := session.Run(runCtx); err != nil {
		return err
	}
	fmt.Printf("Joined session %s as %s\n", code, name)

	go renderNotifications(session)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-stop:
		case <-session.Done():
			fmt.Println("disconnected from host")
		}
		cancel()
		_ = session.Close()
	}()

	return playerREPL(runCtx, session)
}

func renderNotifications(session *app.PlayerSession) {
	for n := range session.Notifications() {
		switch {
		case n.State != nil:
			renderState(n.State)
		case n.Verdict != nil:
			if n.Verdict.IsCorrect {
				fmt.Printf(">> %s answered correctly (score %d)\n", n.Verdict.PlayerID, n.Verdict.NewScore)
			} else {
				fmt.Printf(">> %s answered wrong\n", n.Verdict.PlayerID)
			}
		case n.Final != nil:
			fmt.Println(">> final standings:")
			for i, e := range n.Final.Entries {
				fmt.Printf("   %d. %s  %d\n", i+1, e.DisplayName, e.Score)
			}
		}
	}
}

func renderState(state *domain.GameState) {
	switch state.Phase {
	case domain.PhaseLobby:
		fmt.Printf(">> lobby: %d players\n", len(state.Players))
	case domain.PhaseQuestion:
		q := state.CurrentQuestion
		if q == nil {
			return
		}
		fmt.Printf(">> Q%d [%s] %s\n", state.CurrentIndex+1, q.Category, q.Prompt)
		for i, c := range q.Choices {
			fmt.Printf("   %d) %s\n", i+1, c)
		}
		if q.Type == domain.TypeBuzzer && state.BuzzerWinner != "" {
			if winner, ok := state.Players[state.BuzzerWinner]; ok {
				fmt.Printf("   buzzer: %s\n", winner.DisplayName)
			}
		}
	case domain.PhaseReveal:
		if q := state.CurrentQuestion; q != nil {
			answer := q.Answer
			if answer == "" && q.AnswerIndex >= 0 && q.AnswerIndex < len(q.Choices) {
				answer = q.Choices[q.AnswerIndex]
			}
			fmt.Printf(">> answer: %s\n", answer)
			if q.Explanation != "" {
				fmt.Printf("   %s\n", q.Explanation)
			}
		}
	case domain.PhaseFinal:
		fmt.Println(">> game over")
	}
}

func playerREPL(ctx context.Context, session *app.PlayerSession) error {
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
		case "buzz":
			err = session.Buzz()
		case "answer":
			if len(fields) < 2 {
				fmt.Println("usage: answer <choice>")
				continue
			}
			err = session.SubmitChoice(strings.Join(fields[1:], " "))
		case "quit", "exit":
			return nil
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
		if err != nil {
			fmt.Println("!!", err)
		}
	}
	return scanner.Err()
}
