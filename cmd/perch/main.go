package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/perchhq/perch/internal/config"
	"github.com/perchhq/perch/internal/crypto"
	"github.com/perchhq/perch/internal/storage"
	"github.com/perchhq/perch/pkg/logger"
	"github.com/perchhq/perch/sdk"
)

// mintedTokenLifetime is used when no access token file exists and the
// server shares our master secret (self-hosted setups).
const mintedTokenLifetime = 30 * 24 * time.Hour

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetLevel(cfg.LogLevel)

	args, err := parseFlags(cfg, os.Args[1:])
	if err != nil {
		return err
	}

	if cfg.Debug {
		log.Printf("Config: ServerURL=%s, PerchHome=%s", cfg.ServerURL, cfg.PerchHome)
	}

	command := "watch"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	switch command {
	case "help", "--help", "-h":
		printUsage()
		return nil
	case "version", "--version", "-v":
		fmt.Println("perch v1.0.0")
		return nil
	}

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	switch command {
	case "watch":
		return watchCommand(client)
	case "sessions":
		return sessionsCommand(client)
	case "queue":
		if len(args) < 1 {
			return fmt.Errorf("usage: perch queue <session-id>")
		}
		return queueCommand(client, args[0])
	case "send":
		if len(args) < 2 {
			return fmt.Errorf("usage: perch send <session-id> <message>")
		}
		return sendCommand(client, args[0], strings.Join(args[1:], " "))
	case "mark-viewed":
		if len(args) < 1 {
			return fmt.Errorf("usage: perch mark-viewed <session-id>")
		}
		return client.MarkSessionViewed(args[0])
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// newClient builds a connected SDK client from local credentials.
func newClient(cfg *config.Config) (*sdk.Client, error) {
	masterKey, err := storage.GetOrCreateMasterKey(cfg.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load master key: %w", err)
	}
	token, err := loadOrMintToken(cfg, masterKey)
	if err != nil {
		return nil, err
	}

	client := sdk.NewClient(cfg.ServerURL)
	client.SetPerchHome(cfg.PerchHome)
	client.SetListener(&logListener{})
	if err := client.SetCredentials(token, masterKey); err != nil {
		return nil, err
	}
	if err := client.LoadPersistedSessions(); err != nil {
		log.Printf("Warning: could not load persisted sessions: %v", err)
	}
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return client, nil
}

// loadOrMintToken prefers the stored access token and falls back to minting
// one from the master secret.
func loadOrMintToken(cfg *config.Config, masterKey []byte) (string, error) {
	tokenPath := filepath.Join(cfg.PerchHome, "access.key")
	if data, err := os.ReadFile(tokenPath); err == nil {
		token := strings.TrimSpace(string(data))
		if token != "" {
			return token, nil
		}
	}
	token, err := crypto.NewTokenMinter(masterKey).Mint("perch-cli", mintedTokenLifetime)
	if err != nil {
		return "", fmt.Errorf("failed to mint access token: %w", err)
	}
	return token, nil
}

func watchCommand(client *sdk.Client) error {
	log.Println("Watching for updates. Press Ctrl+C to exit.")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down.")
	return nil
}

func sessionsCommand(client *sdk.Client) error {
	ids := client.Sessions()
	if len(ids) == 0 {
		fmt.Println("No sessions.")
		return nil
	}
	for _, id := range ids {
		sess := client.Session(id)
		if sess == nil {
			continue
		}
		marker := " "
		if client.SessionHasUnread(id) {
			marker = "*"
		}
		path := ""
		if sess.Metadata != nil {
			path = sess.Metadata.Path
		}
		fmt.Printf("%s %s seq=%d %s\n", marker, id, sess.Seq, path)
	}
	return nil
}

func queueCommand(client *sdk.Client, sessionID string) error {
	q := client.PendingQueue(sessionID)
	if q == nil || (len(q.Queue) == 0 && q.InFlight == nil) {
		fmt.Println("Queue is empty.")
	} else {
		if q.InFlight != nil {
			fmt.Printf("> %s (in flight) %s\n", q.InFlight.LocalID, q.InFlight.Message)
		}
		for _, item := range q.Queue {
			fmt.Printf("  %s %s\n", item.LocalID, item.Message)
		}
	}
	for _, item := range client.DiscardedMessages(sessionID) {
		fmt.Printf("  %s (discarded: %s) %s\n", item.LocalID, item.DiscardedReason, item.Message)
	}
	return nil
}

func sendCommand(client *sdk.Client, sessionID string, message string) error {
	localID, err := client.EnqueueMessage(sessionID, message)
	if err != nil {
		return fmt.Errorf("failed to enqueue: %w", err)
	}
	log.Printf("Enqueued message %s", localID)
	if err := client.SendOrWake(sessionID); err != nil {
		return fmt.Errorf("failed to deliver: %w", err)
	}
	return nil
}

func parseFlags(cfg *config.Config, args []string) ([]string, error) {
	fs := flag.NewFlagSet("perch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	serverURL := fs.String("server", "", "Sync server URL")
	debug := fs.Bool("debug", false, "Enable verbose logging")
	showHelp := fs.Bool("help", false, "Show help")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *showHelp {
		printUsage()
		return nil, nil
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if *debug {
		cfg.Debug = true
		cfg.LogLevel = logger.LevelDebug
	}

	return fs.Args(), nil
}

// logListener prints SDK events for interactive use.
type logListener struct{}

func (l *logListener) OnConnected()                 { log.Println("Connected.") }
func (l *logListener) OnDisconnected(reason string) { log.Printf("Disconnected: %s", reason) }
func (l *logListener) OnSessionChanged(sessionID string) {
	log.Printf("Session %s updated", sessionID)
}
func (l *logListener) OnAccountChanged() { log.Println("Account updated") }
func (l *logListener) OnError(message string) {
	log.Printf("Error: %s", message)
}

func printUsage() {
	fmt.Println(`Usage: perch [flags] <command>

Commands:
  watch                       Connect and print updates (default)
  sessions                    List known sessions (* marks unread)
  queue <session-id>          Show the pending message queue
  send <session-id> <msg>     Enqueue a message and deliver or wake the agent
  mark-viewed <session-id>    Clear a session's unread state
  version                     Print version

Flags:
  --server <url>              Sync server URL (or PERCH_SERVER_URL)
  --debug                     Verbose logging (or PERCH_DEBUG=1)`)
}
