package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/zombor/payment-verifier/internal/localverify"
	"github.com/zombor/payment-verifier/internal/scanning"
	"github.com/zombor/payment-verifier/internal/verify"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("payment-verifier")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		dbPath         = fs.StringLong("db", "payment-verifier.db", "Database file path")
		baseURL        = fs.StringLong("base-url", "https://verifyapi.leulzenebe.pro", "Default verification API base URL")
		apiKey         = fs.StringLong("api-key", "", "Verification API key (or set PAYMENT_VERIFIER_API_KEY env var)")
		retries        = fs.IntLong("retries", 1, "Retry budget for transient verification failures")
		retryDelay     = fs.DurationLong("retry-delay", 700*time.Millisecond, "Delay between verification retry attempts")
		recognizerType = fs.StringLong("recognizer", "gemini", "Text recognizer: 'gemini', 'ollama' or 'none'")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, bakllava, qwen2-vl)")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		rateLimit      = fs.IntLong("rate-limit", 60, "Per-IP requests per minute (0 disables)")
		cacheTTL       = fs.DurationLong("cache-ttl", 60*time.Second, "Verification result cache TTL (0 disables)")
		localFallback  = fs.BoolLong("local-fallback", "Look up provider receipt pages directly when the verification API is unreachable")
		cbeReceiptURL  = fs.StringLong("cbe-receipt-url", "https://apps.cbe.com.et:100", "CBE receipt PDF base URL")
		tbReceiptURL   = fs.StringLong("telebirr-receipt-url", "https://transactioninfo.ethiotelecom.et/receipt", "Telebirr receipt page base URL")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("PAYMENT_VERIFIER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Initialize database
	slog.Info("Initializing database...")
	store, err := verify.NewBoltStore(*dbPath, *baseURL)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Initialize text recognizer based on type
	var recognizer scanning.Recognizer
	switch *recognizerType {
	case "gemini":
		// Get Gemini API key from flag or environment
		key := *geminiKey
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		if key == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini recognizer...", "model", *geminiModel)
		recognizer, err = scanning.NewGemini(key, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama recognizer...", "url", *ollamaURL, "model", *ollamaModel)
		recognizer, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	case "none":
		slog.Info("Text recognition disabled; receipt photos will not be scanned locally")
	default:
		slog.Error("Invalid recognizer type", "type", *recognizerType, "valid", "gemini, ollama or none")
		os.Exit(1)
	}
	if recognizer != nil {
		defer recognizer.Close()
	}

	key := *apiKey
	if key == "" {
		key = os.Getenv("PAYMENT_VERIFIER_API_KEY")
	}

	client := verify.NewClientWithRetry(store, key, *retries, *retryDelay)

	var local verify.LocalVerifier
	if *localFallback {
		slog.Info("Local receipt fallback enabled", "cbe", *cbeReceiptURL, "telebirr", *tbReceiptURL)
		local = localverify.NewService(*cbeReceiptURL, *tbReceiptURL, 60*time.Second)
	}

	// Initialize server
	basicAuth := verify.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := verify.NewServer(client, recognizer, local, store, store, basicAuth, verify.ServerConfig{
		RateLimit: *rateLimit,
		CacheTTL:  *cacheTTL,
	})

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
