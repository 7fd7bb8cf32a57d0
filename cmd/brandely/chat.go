package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ent0n29/brandely/internal/app"
	"github.com/ent0n29/brandely/internal/chat"
	"github.com/ent0n29/brandely/internal/stream"
)

func chatCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to Brandely in the terminal",
		Long: `Start an interactive session on stdin/stdout.

Replies stream as the provider produces them. Refusals are printed with the
configured typing pace. Type /quit or send EOF to leave.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			built, err := app.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := built.Cleanup(); err != nil {
					logger.Warn("cleanup failed", zap.Error(err))
				}
			}()

			if strings.TrimSpace(sessionID) == "" {
				sessionID = uuid.NewString()
			}
			pacer := stream.TypingPacer{Initial: cfg.StreamInitialDelay, PerChunk: cfg.StreamChunkDelay}
			return runChat(ctx, built.Chat, sessionID, pacer, cfg.StreamMode, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to use (default: a new one)")
	return cmd
}

func runChat(ctx context.Context, svc *chat.Service, sessionID string, pacer stream.Pacer, mode stream.Mode, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "Brandely is ready (session %s). What are we branding today?\n", sessionID)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		fmt.Fprintln(out, chat.ThinkingNotice)
		streamed := false
		reply, err := svc.HandleMessageStream(ctx, sessionID, line, func(delta string) error {
			if !streamed {
				fmt.Fprint(out, "Brandely: ")
				streamed = true
			}
			_, err := io.WriteString(out, delta)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if streamed {
				fmt.Fprintln(out)
			}
			var turnErr *chat.TurnError
			if errors.As(err, &turnErr) {
				hint := ""
				if turnErr.Class.Retryable {
					hint = " (try again)"
				}
				fmt.Fprintf(out, "[error] %s: %v%s\n", turnErr.Class.Code, turnErr.Err, hint)
				continue
			}
			fmt.Fprintf(out, "[error] %v\n", err)
			continue
		}
		if !streamed {
			fmt.Fprint(out, "Brandely: ")
			_ = stream.Play(ctx, stream.NewReply(reply.Text, mode), pacer, func(chunk string) error {
				_, err := io.WriteString(out, chunk)
				return err
			})
		}
		fmt.Fprintln(out)
	}
}
