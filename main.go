package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bosley/echo/app"
	"github.com/bosley/echo/config"
	"github.com/bosley/echo/inbox"
	"github.com/bosley/echo/recorder"
	"github.com/bosley/echo/store"
	"github.com/bosley/echo/tui"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	serveMode := flag.Bool("serve", false, "Run the HTTP/websocket API (and the inbox watcher when ECHO_INBOX_DIR is set)")
	recordMode := flag.Bool("record", false, "Open the interactive recorder")
	signupMode := flag.Bool("signup", false, "Create an account (-email, -password) and send its verification link")
	verifyToken := flag.String("verify", "", "Verify an email address with the token from its link")
	listDevices := flag.Bool("list-devices", false, "List available audio input devices")
	playFile := flag.String("play", "", "Play audio file")
	envFile := flag.String("env", "", "Env file to load instead of ./.env")
	email := flag.String("email", os.Getenv("ECHO_EMAIL"), "Account email")
	password := flag.String("password", os.Getenv("ECHO_PASSWORD"), "Account password")
	deviceID := flag.Int("device", -1, "Audio input device ID to use (overrides ECHO_DEVICE)")
	addr := flag.String("addr", "", "Server address (overrides ECHO_ADDR)")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Invalid configuration:", err)
		os.Exit(1)
	}
	if *deviceID >= 0 {
		cfg.DeviceID = *deviceID
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *verbose {
		cfg.LogLevel = slog.LevelDebug
	}

	logCloser, err := setupLogging(cfg, *recordMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to set up logging:", err)
		os.Exit(1)
	}
	defer logCloser()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Debug("Received shutdown signal")
		cancel()
	}()

	if *playFile != "" {
		if err := recorder.PlayFile(ctx, *playFile); err != nil {
			slog.Error("Failed to play audio file", "error", err)
			os.Exit(1)
		}
		return
	}

	if *listDevices {
		devices, err := recorder.ListDevices()
		if err != nil {
			slog.Error("Failed to list audio devices", "error", err)
			os.Exit(1)
		}

		fmt.Println("Available audio input devices:")
		for i, device := range devices {
			fmt.Printf("[%d] %s\n", i, device.Name)
			fmt.Printf("    Max Input Channels: %d\n", device.MaxInputChannels)
			fmt.Printf("    Default Sample Rate: %f\n", device.DefaultSampleRate)
			fmt.Println()
		}
		return
	}

	if !*serveMode && !*recordMode && !*signupMode && *verifyToken == "" {
		flag.Usage()
		os.Exit(2)
	}

	a, err := app.New(cfg)
	if err != nil {
		slog.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	switch {
	case *signupMode:
		err = signUp(ctx, a, *email, *password)
	case *verifyToken != "":
		err = verify(ctx, a, *verifyToken)
	case *serveMode:
		err = serve(ctx, a)
	case *recordMode:
		err = record(ctx, a, *email, *password)
	}
	if err != nil {
		slog.Error("Exiting with error", "error", err)
		a.Close()
		os.Exit(1)
	}

	slog.Debug("Program exiting")
}

// setupLogging writes to stdout, or to a file under the data directory
// while the terminal UI owns the screen.
func setupLogging(cfg config.Config, toFile bool) (func(), error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if !toFile {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, opts)))
		return func() {}, nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(cfg.DataDir, "echo.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(f, opts)))
	return func() { f.Close() }, nil
}

func signUp(ctx context.Context, a *app.App, email, password string) error {
	if _, err := a.Auth.SignUp(ctx, email, password); err != nil {
		return err
	}
	fmt.Println("Verification email sent. Please verify before logging in.")
	return nil
}

func verify(ctx context.Context, a *app.App, token string) error {
	u, err := a.Auth.VerifyEmail(ctx, token)
	if err != nil {
		return err
	}
	fmt.Printf("Email %s verified. You can now log in.\n", u.Email)
	return nil
}

func serve(ctx context.Context, a *app.App) error {
	srv, err := a.NewServer()
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	var in *inbox.Inbox
	if a.Config.InboxDir != "" {
		in, err = a.NewInbox(srv.Hub().SessionCreated)
		if err != nil {
			return fmt.Errorf("failed to initialize inbox: %w", err)
		}
		if err := in.Start(ctx); err != nil {
			return fmt.Errorf("failed to start inbox: %w", err)
		}
		defer func() {
			if err := in.Stop(context.Background()); err != nil {
				slog.Error("Failed to stop inbox", "error", err)
			}
		}()
	}

	return srv.Start(ctx)
}

func record(ctx context.Context, a *app.App, email, password string) error {
	unsubscribe := a.Auth.Subscribe(func(u *store.User) {
		if u == nil {
			slog.Info("Signed out")
			return
		}
		slog.Info("Signed in", "userID", u.ID, "email", u.Email)
	})
	defer unsubscribe()

	user, err := a.Auth.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("failed to log in: %w", err)
	}
	defer a.Auth.Logout()

	rec := a.NewRecorder()
	defer rec.Close()

	model := tui.New(ctx, rec, a.Pipeline, user.ID)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("recorder UI failed: %w", err)
	}
	return nil
}
