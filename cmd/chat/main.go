package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"estatechat/internal/boot"
	"estatechat/internal/chat"
	"estatechat/internal/outbound"
	"estatechat/internal/session"
)

func main() {
	conversation := flag.String("conversation", "", "conversation id (overrides CHAT_CONVERSATION_ID)")
	flag.Parse()

	cfg, err := boot.Load()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if *conversation != "" {
		cfg.ConversationID = *conversation
	}
	if cfg.ConversationID == "" {
		log.Fatal("❌ conversation id required (flag -conversation or CHAT_CONVERSATION_ID)")
	}

	sess, err := session.Open(session.Config{
		ServerURL:   cfg.ServerURL,
		Token:       cfg.Token,
		SendTimeout: cfg.SendTimeout,
		MaxAttempts: cfg.MaxAttempts,
	}, cfg.ConversationID)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer sess.Close()

	fmt.Printf("connected as user %d, conversation %s\n", sess.UserID(), cfg.ConversationID)
	fmt.Println("type a message and press enter; /file <path> [caption] to upload; /quit to exit")

	go watch(sess)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case strings.HasPrefix(line, "/file "):
			upload(sess, strings.TrimPrefix(line, "/file "))
		default:
			if _, err := sess.SendText(line); err != nil {
				fmt.Printf("!! %v\n", err)
			}
		}
	}
}

// watch re-renders the conversation whenever the store changes and prints
// banner notifications as they arrive.
func watch(sess *session.Session) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case note, ok := <-sess.Notifications():
			if !ok {
				return
			}
			fmt.Printf("** %s\n", note.Message)
		case <-ticker.C:
			if v := sess.Version(); v != last {
				last = v
				render(sess)
			}
		}
	}
}

func render(sess *session.Session) {
	for _, group := range sess.Projection() {
		fmt.Printf("--- %s ---\n", group.Date.Format("Mon, 02 Jan 2006"))
		for _, m := range group.Messages {
			fmt.Printf("[%s] %d: %s%s\n",
				m.CreatedAt.Local().Format("15:04"),
				m.SenderID,
				renderContent(m),
				stateSuffix(sess.UserID(), m))
		}
	}
}

func renderContent(m chat.Message) string {
	if m.Kind != chat.KindFiles {
		return m.Content
	}
	return "[files] " + m.Content
}

func stateSuffix(selfID int, m chat.Message) string {
	if m.SenderID != selfID {
		return ""
	}
	switch m.DeliveryState {
	case chat.DeliverySending:
		return " (sending)"
	case chat.DeliveryFailed:
		return " (failed)"
	case chat.DeliveryRead:
		return " ✓✓"
	default:
		return " ✓"
	}
}

func upload(sess *session.Session, args string) {
	parts := strings.SplitN(args, " ", 2)
	path := parts[0]
	caption := ""
	if len(parts) == 2 {
		caption = parts[1]
	}

	f, err := os.Open(path)
	if err != nil {
		fmt.Printf("!! %v\n", err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		fmt.Printf("!! %v\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result, rejected, err := sess.SendFiles(ctx, []outbound.File{{
		Name:        filepath.Base(path),
		ContentType: contentTypeFor(path),
		Size:        info.Size(),
		Data:        f,
	}}, caption)
	for _, fe := range rejected {
		fmt.Printf("!! %s\n", fe.Error())
	}
	if err != nil {
		fmt.Printf("!! %v\n", err)
		return
	}
	if result.Partial {
		fmt.Println("** upload partially processed")
	}
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
