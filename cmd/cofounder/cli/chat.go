package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TRQoder/cofounder/internal/memory"
	"github.com/TRQoder/cofounder/internal/observe"
	"github.com/TRQoder/cofounder/internal/store"
	"github.com/TRQoder/cofounder/internal/turn"
)

// localUserEmail identifies the account used by the terminal chat.
const localUserEmail = "local@cofounder"

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the co-founder from the terminal",
	Long: `Starts a local conversation loop against the configured provider.
Messages persist to the local store; long-term memory lives in an
ephemeral index, so recall spans this session only.`,
	Run: func(cmd *cobra.Command, args []string) {
		runChat()
	},
}

func init() {
	RootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVarP(&providerType, "provider", "p", "", "AI provider (gemini, openai, ollama)")
	chatCmd.Flags().StringVarP(&modelName, "model", "m", "", "Model name (default depends on provider)")
}

func runChat() {
	cfg := loadConfig()

	// Keep stdout clean for the conversation itself.
	obs := observe.New(io.Discard, false)
	if verbose {
		obs = newObserver()
	}
	defer obs.Close()

	storeLayer := getStore(cfg)
	defer storeLayer.Close()

	index, err := memory.NewEphemeralIndex()
	if err != nil {
		fmt.Printf("Failed to init index: %v\n", err)
		os.Exit(1)
	}
	defer index.Close()

	p, err := buildProvider(cfg, storeLayer)
	if err != nil {
		fmt.Printf("Failed to init provider: %v\n", err)
		os.Exit(1)
	}

	orch := turn.New(storeLayer, index, p, obs, turn.WithConfig(turn.Config{
		RecallK:     cfg.Turn.RecallK,
		WindowSize:  cfg.Turn.WindowSize,
		CallTimeout: cfg.Turn.CallTimeout,
		RecallScope: cfg.Index.RecallScope,
	}))

	ctx := context.Background()
	user, chat, err := localSession(ctx, storeLayer)
	if err != nil {
		fmt.Printf("Failed to open session: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Chatting with %s. Type your message, or /quit to exit.\n\n", p.Name())

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "/quit" || text == "/exit" {
			return
		}

		_, err := orch.HandleTurn(ctx, chat, user, text, func(reply string) {
			fmt.Printf("\n%s\n\n", reply)
		})
		if err != nil {
			fmt.Printf("\nerror: %v\n\n", err)
		}
	}
}

// localSession finds or creates the user and chat that back the
// terminal conversation, so history survives restarts.
func localSession(ctx context.Context, s store.Storage) (userID, chatID string, err error) {
	user, err := s.UserByEmail(ctx, localUserEmail)
	if errors.Is(err, store.ErrNotFound) {
		user, err = s.CreateUser(ctx, localUserEmail, "", "Local", "User")
	}
	if err != nil {
		return "", "", fmt.Errorf("local user: %w", err)
	}

	chats, err := s.ChatsByUser(ctx, user.ID)
	if err != nil {
		return "", "", fmt.Errorf("list chats: %w", err)
	}
	if len(chats) > 0 {
		return user.ID, chats[0].ID, nil
	}

	chat, err := s.CreateChat(ctx, user.ID, "Terminal")
	if err != nil {
		return "", "", fmt.Errorf("create chat: %w", err)
	}
	return user.ID, chat.ID, nil
}
