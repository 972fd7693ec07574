// Command relay-chat is an interactive client that runs turns through the
// relay in-process, using the providers and credentials of a config file.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/adrianmueller-eu/personal-assistant-sub000/config"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/provider"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/usage"
	"github.com/chzyer/readline"
	"go.uber.org/zap"
)

const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorGray  = "\033[90m"
)

var (
	configFile = flag.String("config", "relay.yaml", "Path to configuration file")
	user       = flag.String("user", "cli", "User id for credentials and usage")
	model      = flag.String("model", "gpt-4o", "Initial model id")
	debug      = flag.Bool("debug", false, "Log relay activity to stderr")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := zap.NewNop()
	if *debug {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()

	store := usage.NewMemoryStore()
	relay, err := provider.NewRelay(cfg, provider.NewAdapters(cfg, logger),
		provider.NewConfigCredentials(cfg.Credentials), logger,
		provider.WithUsage(usage.NewAccountant(store, logger)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create relay: %v\n", err)
		os.Exit(1)
	}

	s := &session{relay: relay, store: store, user: *user, model: *model}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	homeDir, _ := os.UserHomeDir()
	historyFile := filepath.Join(homeDir, ".relay-chat", "history")
	_ = os.MkdirAll(filepath.Dir(historyFile), 0755)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:      colorGreen + "You> " + colorReset,
		HistoryFile: historyFile,
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("/help"),
			readline.PcItem("/quit"),
			readline.PcItem("/model",
				readline.PcItem("gpt-4o"),
				readline.PcItem("o3-mini"),
				readline.PcItem("claude-sonnet-4-5"),
				readline.PcItem("claude-sonnet-4-5-thinking"),
			),
			readline.PcItem("/route"),
			readline.PcItem("/system"),
			readline.PcItem("/search"),
			readline.PcItem("/clear"),
			readline.PcItem("/usage"),
			readline.PcItem("/health"),
		),
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Printf("relay-chat: model %s, user %s. Type /help for commands.\n", s.model, s.user)
	for ctx.Err() == nil {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			break
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			out, quit := s.command(input)
			if quit {
				break
			}
			fmt.Println(out)
			continue
		}

		fmt.Print(colorGray + "..." + colorReset)
		res := s.send(ctx, input)
		fmt.Print("\r   \r")
		if !res.OK() {
			fmt.Printf(colorRed+"%s: %s"+colorReset+"\n", res.Error.Type, res.Error.Message)
			continue
		}
		if res.ReasoningText != "" {
			fmt.Println(colorGray + res.ReasoningText + colorReset)
		}
		fmt.Println(res.Text)
		fmt.Printf(colorGray+"[%s %s, %d attempt(s), %d in / %d out]"+colorReset+"\n",
			res.Meta.Provider, res.Meta.Model, res.Meta.Attempts,
			res.Usage.InputTokens, res.Usage.OutputTokens)
	}
}
