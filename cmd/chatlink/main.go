package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/marketfeed/chatlink/chat"
	"github.com/marketfeed/chatlink/identity"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "chatlink",
		Short:         "Terminal client for the realtime chat channel",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runChat,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "chatlink.yaml", "path to the configuration file")

	root.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Generate a local signing identity",
		RunE:  runInit,
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*chat.Config, error) {
	// A missing .env is fine; explicit env vars still override the file.
	_ = godotenv.Load()
	return chat.LoadConfig(configPath)
}

func newLogger(level string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.KeyFile == "" {
		return errors.New("keyFile is not set in the configuration")
	}
	if _, err := os.Stat(cfg.KeyFile); err == nil {
		return fmt.Errorf("keyfile %s already exists", cfg.KeyFile)
	}

	kp, err := identity.Generate()
	if err != nil {
		return err
	}
	if err := kp.Save(cfg.KeyFile); err != nil {
		return err
	}

	fmt.Printf("identity created\n  keyfile: %s\n  address: %s\n", cfg.KeyFile, kp.Address())
	return nil
}

// guestIdentity lets the client connect read-only when no keyfile exists.
type guestIdentity struct{}

func (guestIdentity) Ready() bool         { return true }
func (guestIdentity) Authenticated() bool { return false }
func (guestIdentity) Address() string     { return "" }
func (guestIdentity) Sign(context.Context, string) (string, error) {
	return "", errors.New("no identity configured; run chatlink init")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var id chat.Identity = guestIdentity{}
	if cfg.KeyFile != "" {
		kp, err := identity.Load(cfg.KeyFile)
		switch {
		case err == nil:
			id = kp
			logger.Infow("identity loaded", "address", kp.Address())
		case errors.Is(err, os.ErrNotExist):
			logger.Warnw("no keyfile found, connecting as guest", "keyFile", cfg.KeyFile)
		default:
			return err
		}
	}

	rl, err := readline.New("> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	printer := &transcriptPrinter{out: rl.Stdout()}

	var session *chat.Session
	session, err = chat.NewSession(*cfg, id,
		chat.WithLogger(logger),
		chat.WithOnChange(func() {
			printer.print(session.Messages())
		}),
		chat.WithLoginHandler(func() {
			fmt.Fprintln(rl.Stdout(), "sign-in required: run `chatlink init` and restart")
		}),
	)
	if err != nil {
		return err
	}

	session.Activate()
	defer session.Deactivate()

	fmt.Fprintf(rl.Stdout(), "connected to %s (type /quit to exit)\n", cfg.ServerURL)

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			return nil
		}
		if err == io.EOF {
			return nil
		}
		if strings.TrimSpace(line) == "/quit" {
			return nil
		}
		session.Send(line)
	}
}

// transcriptPrinter writes entries to the terminal as they appear. Entries
// already printed are not reprinted when a later echo updates them.
type transcriptPrinter struct {
	mu   sync.Mutex
	out  io.Writer
	seen int
}

func (p *transcriptPrinter) print(msgs []chat.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for ; p.seen < len(msgs); p.seen++ {
		m := msgs[p.seen]
		ts := ""
		if m.Timestamp > 0 {
			ts = time.UnixMilli(m.Timestamp).Format("15:04:05 ")
		}
		switch m.Author {
		case chat.AuthorSelf:
			fmt.Fprintf(p.out, "%syou: %s\n", ts, m.Text)
		case chat.AuthorSystem:
			fmt.Fprintf(p.out, "%s* %s\n", ts, m.Text)
		default:
			from := m.Address
			if from == "" {
				from = "anon"
			}
			fmt.Fprintf(p.out, "%s%s: %s\n", ts, shorten(from), m.Text)
		}
		if m.Error != "" {
			fmt.Fprintf(p.out, "  ! %s\n", m.Error)
		}
	}
}

func shorten(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
