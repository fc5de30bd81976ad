package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xxxsen/quitachat/internal/pkg/mdtext"
	"github.com/xxxsen/quitachat/internal/service"
)

func newChatCmd(configPath *string) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "talk to the assistant from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := setup(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}
			chat, err := a.chatService(engine)
			if err != nil {
				return err
			}
			if sessionID == "" {
				sessionID = service.NewSessionID()
			}
			return chatLoop(ctx, chat.Session(sessionID), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "resume an existing session id")
	return cmd
}

func chatLoop(ctx context.Context, session *service.ChatSession, in io.Reader, out io.Writer) error {
	you := color.New(color.FgGreen, color.Bold).SprintFunc()
	bot := color.New(color.FgCyan, color.Bold).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	fmt.Fprintln(out, bot("Assistente Quita Goiás"))
	fmt.Fprintln(out, dim("sessão "+session.ID()+", digite 'sair' para encerrar"))
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, you("Você: "))
		if !scanner.Scan() {
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if q := strings.ToLower(question); q == "sair" || q == "exit" {
			return nil
		}
		resp, err := session.GenerateResponse(ctx, question, false)
		if err != nil && !errors.Is(err, service.ErrPersistFailed) {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(out, color.RedString("erro: %v", err))
			continue
		}
		fmt.Fprintln(out, bot("Assistente: ")+mdtext.ToPlain(resp.Answer))
		switch {
		case err != nil:
			fmt.Fprintln(out, color.YellowString("(resposta não foi salva)"))
		case resp.MessageID != nil:
			fmt.Fprintln(out, dim(fmt.Sprintf("#%d", *resp.MessageID)))
		}
		fmt.Fprintln(out)
	}
}
