package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"shop-assist/internal/adapters/auth"
	"shop-assist/internal/adapters/websocket"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a conversation over the live relay",
	Long: `Connect to the relay, join a conversation and print every frame.
Lines typed on stdin are sent to the conversation as messages.
The client reconnects after transport loss and rejoins the conversation.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var (
	watchURL          string
	watchConversation string
	watchSession      string
	watchAdmin        bool
	watchAdminID      int64
)

func init() {
	watchCmd.Flags().StringVar(&watchURL, "url", "", "Relay URL (default ws://localhost:<APP_PORT>/ws)")
	watchCmd.Flags().StringVar(&watchConversation, "conversation", "", "Conversation id to join")
	watchCmd.Flags().StringVar(&watchSession, "session", "", "Customer session id (storefront login)")
	watchCmd.Flags().BoolVar(&watchAdmin, "admin", false, "Authenticate with an admin token minted from JWT_SECRET")
	watchCmd.Flags().Int64Var(&watchAdminID, "admin-id", 1, "Admin user id placed in the minted token")
	_ = watchCmd.MarkFlagRequired("conversation")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	target := watchURL
	if target == "" {
		target = fmt.Sprintf("ws://localhost:%d/ws", cfg.App.Port)
	}

	header := http.Header{}
	switch {
	case watchAdmin:
		token, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret).Issue(watchAdminID, "cli", time.Hour)
		if err != nil {
			return fmt.Errorf("mint admin token: %w", err)
		}
		header.Set("Authorization", "Bearer "+token)
	case watchSession != "":
		u, err := url.Parse(target)
		if err != nil {
			return fmt.Errorf("parse relay url: %w", err)
		}
		q := u.Query()
		q.Set("session_id", watchSession)
		u.RawQuery = q.Encode()
		target = u.String()
	default:
		return fmt.Errorf("either --admin or --session is required")
	}

	client := websocket.NewDialer(websocket.DialerConfig{URL: target, Header: header}, log.Logger)
	if err := client.Join(watchConversation); err != nil {
		return err
	}

	go sendStdin(ctx, client)

	return client.Run(ctx, func(env websocket.Envelope) {
		fmt.Printf("%s %s %s\n", time.Now().Format(time.TimeOnly), env.Event, strings.TrimSpace(string(env.Data)))
	})
}

// sendStdin relays typed lines as send_message events until stdin closes
func sendStdin(ctx context.Context, client *websocket.Dialer) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		err := client.Send(websocket.EventSendMessage, websocket.SendMessagePayload{
			ConversationID: watchConversation,
			Content:        text,
		})
		if err != nil {
			log.Warn().Err(err).Msg("message not sent")
		}
	}
}
