// Command chat is a terminal demo of the messaging client: it connects
// to a CareBridge backend, prints pushed events, and sends whatever you
// type. Configuration comes from CHAT_* environment variables (see
// messaging.Config), with CHAT_TOKEN supplying the bearer token.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/carebridge/messaging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := messaging.ConfigFromEnv("CHAT")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	token := os.Getenv("CHAT_TOKEN")
	if token == "" {
		log.Fatal("CHAT_TOKEN environment variable is required")
	}

	client, err := messaging.New(cfg)
	if err != nil {
		log.Fatalf("Failed to build client: %v", err)
	}

	client.OnConnectionState(func(state messaging.ConnState, err error) {
		if err != nil {
			fmt.Printf("-- connection: %s (%v)\n", state, err)
			return
		}
		fmt.Printf("-- connection: %s\n", state)
	})
	client.OnNewMessage(func(msg messaging.Message) {
		fmt.Printf("[%s] %s: %s\n", msg.ConversationID, msg.SenderName, msg.Body)
	})
	client.OnTyping(func(t messaging.TypingPayload) {
		if t.IsTyping {
			fmt.Printf("[%s] %s is typing…\n", t.ConversationID, t.UserID)
		}
	})
	client.OnMessagesRead(func(r messaging.MessagesReadPayload) {
		fmt.Printf("[%s] %s read %d message(s)\n", r.ConversationID, r.ReaderID, len(r.MessageIDs))
	})

	ctx := context.Background()
	if err := client.Connect(ctx, token); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Disconnect()

	convs, err := client.ListConversations(ctx, 1, 20, false)
	if err != nil {
		log.Printf("Could not list conversations: %s", messaging.PresentableError(err))
	}
	for _, conv := range convs {
		fmt.Printf("%s  [%s] %s (%d unread)\n", conv.ID, conv.Category, conv.Subject, conv.UnreadCount)
	}
	fmt.Println("Type '<conversation-id> <message>' to send. Ctrl-C to quit.")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-quit:
			fmt.Println("Disconnecting…")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			convID, body, found := strings.Cut(strings.TrimSpace(line), " ")
			if !found || body == "" {
				fmt.Println("Usage: <conversation-id> <message>")
				continue
			}
			if err := client.SendMessage(ctx, convID, body, messaging.KindText, ""); err != nil {
				fmt.Printf("Send failed: %s\n", messaging.PresentableError(err))
			}
		}
	}
}
