package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/zombor/receipt-capture/internal/capture"
	"github.com/zombor/receipt-capture/internal/overlap"
	"github.com/zombor/receipt-capture/internal/receipt"
	"github.com/zombor/receipt-capture/internal/scanning"
	"github.com/zombor/receipt-capture/internal/session"
	"github.com/zombor/receipt-capture/internal/validation"
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

	defaults := session.DefaultSettings()

	fs := ff.NewFlagSet("receipt-capture")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		dbPath         = fs.StringLong("db", "receipt-capture.db", "Scan archive file path")
		storagePath    = fs.StringLong("storage", "./captures", "Capture image directory path")
		ocrType        = fs.StringLong("ocr", "gemini", "OCR provider: 'gemini' or 'ollama'")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		ocrTimeout     = fs.DurationLong("ocr-timeout", capture.DefaultRecognizeTimeout, "Timeout for recognizing one capture")
		extractTimeout = fs.DurationLong("extract-timeout", validation.DefaultConfig().ExtractTimeout, "Timeout for field extraction on completion")
		overlapWindow  = fs.IntLong("overlap-window", overlap.DefaultWindow, "Lines compared when aligning a capture with the previous one")
		policyPath     = fs.StringLong("quality-policy", "", "YAML file with overlap quality thresholds (optional)")
		endPattern     = fs.StringLong("end-pattern", "", "Regular expression that marks the last line of a receipt (optional)")
		endTokens      = fs.StringLong("end-tokens", strings.Join(capture.DefaultEndTokens(), ","), "Comma-separated footer words that suggest the receipt ended")
		maxImages      = fs.IntLong("max-images", defaults.MaxImages, "Default capture limit per session")
		minOverlap     = fs.Float64Long("min-overlap", defaults.MinOverlapConfidence, "Default minimum overlap confidence")
		autoDetectEnd  = fs.StringLong("auto-detect-end", strconv.FormatBool(defaults.AutoDetectEnd), "Default for end-of-receipt detection (true/false)")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_CAPTURE"),
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

	// Session defaults
	autoEnd, err := strconv.ParseBool(*autoDetectEnd)
	if err != nil {
		slog.Error("Invalid auto-detect-end value", "value", *autoDetectEnd, "error", err)
		os.Exit(1)
	}
	defaults = session.Settings{
		AutoDetectEnd:        autoEnd,
		MinOverlapConfidence: *minOverlap,
		MaxImages:            *maxImages,
	}
	if err := defaults.Validate(); err != nil {
		slog.Error("Invalid session defaults", "error", err)
		os.Exit(1)
	}

	// Overlap quality policy
	policy := overlap.DefaultQualityPolicy()
	if *policyPath != "" {
		policy, err = overlap.LoadPolicy(*policyPath)
		if err != nil {
			slog.Error("Failed to load quality policy", "path", *policyPath, "error", err)
			os.Exit(1)
		}
		slog.Info("Loaded quality policy", "path", *policyPath, "levels", len(policy.Levels))
	}

	endDetector, err := capture.NewEndDetector(strings.Split(*endTokens, ","), *endPattern, capture.DefaultTrailingLines)
	if err != nil {
		slog.Error("Invalid end pattern", "pattern", *endPattern, "error", err)
		os.Exit(1)
	}

	// Initialize database
	slog.Info("Initializing database...")
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize OCR provider based on type
	var scanner scanning.Scanner
	switch *ocrType {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini OCR...", "model", *geminiModel)
		scanner, err = scanning.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama OCR...", "url", *ollamaURL, "model", *ollamaModel)
		scanner, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid OCR type", "type", *ocrType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer scanner.Close()

	// Initialize storage
	slog.Info("Initializing storage...")
	storage, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize engine
	store := session.NewMemoryStore()
	coordinator := capture.NewCoordinator(store, scanner,
		overlap.NewDetector(*overlapWindow, policy),
		endDetector,
		capture.Config{
			Images:           storage,
			RecognizeTimeout: *ocrTimeout,
		},
	)
	engineCfg := validation.DefaultConfig()
	engineCfg.ExtractTimeout = *extractTimeout
	engine := validation.NewEngine(scanner, engineCfg)

	// Initialize service
	captureService := receipt.NewService(store, coordinator, engine, db, storage, defaults)

	// Initialize server
	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(captureService, basicAuth)

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
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
}
