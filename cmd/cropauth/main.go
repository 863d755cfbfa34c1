// Package main provides the cropauth command line tool. It signs a user in to
// the managed identity backend via a third-party OAuth provider with PKCE,
// keeps the resulting session on disk, and offers refresh, status, sign-out,
// and backend health probes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/cropgenius/cropauth/internal/browser"
	"github.com/cropgenius/cropauth/internal/buildinfo"
	"github.com/cropgenius/cropauth/internal/callback"
	"github.com/cropgenius/cropauth/internal/config"
	"github.com/cropgenius/cropauth/internal/instance"
	"github.com/cropgenius/cropauth/internal/logging"
	"github.com/cropgenius/cropauth/sdk/auth"
)

// callbackWait bounds how long the login flow waits for the browser redirect.
const callbackWait = 10 * time.Minute

func init() {
	logging.SetupBaseLogger()
}

func main() {
	var configPath string
	var login bool
	var refresh bool
	var status bool
	var logout bool
	var health bool
	var noBrowser bool
	var redirectTo string

	flag.StringVar(&configPath, "config", "config.yaml", "path to the configuration file")
	flag.BoolVar(&login, "login", false, "sign in via the configured OAuth provider")
	flag.BoolVar(&refresh, "refresh", false, "refresh the stored session")
	flag.BoolVar(&status, "status", false, "show the current session")
	flag.BoolVar(&logout, "logout", false, "sign out and discard the stored session")
	flag.BoolVar(&health, "health", false, "probe identity backend reachability")
	flag.BoolVar(&noBrowser, "no-browser", false, "print the authorization URL instead of opening a browser")
	flag.StringVar(&redirectTo, "redirect-to", "", "post-login destination override")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err = logging.ConfigureLogOutput(cfg.Logging.Dir, cfg.Logging.ToFile, cfg.Logging.Level); err != nil {
		log.Fatalf("failed to configure logging: %v", err)
	}

	client, sessions, states, err := buildClient(cfg)
	if err != nil {
		log.Fatalf("failed to assemble client: %v", err)
	}

	ctx := context.Background()
	switch {
	case login:
		err = runLogin(ctx, cfg, client, states, sessions, noBrowser, redirectTo)
	case refresh:
		err = runRefresh(ctx, client, sessions)
	case status:
		err = runStatus(ctx, client)
	case logout:
		err = runLogout(ctx, client, sessions)
	case health:
		err = runHealth(ctx, client)
	default:
		fmt.Printf("cropauth %s (%s, built %s)\n\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		flag.Usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildClient assembles the backend client, state manager, and façade from
// configuration. The composing root owns the single shared client instance.
func buildClient(cfg *config.Config) (*auth.Client, *auth.SessionFileStore, *auth.StateManager, error) {
	stores, err := buildStateStores(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	states, err := auth.NewStateManager(auth.StateManagerOptions{
		Stores:        stores,
		KeyPrefix:     cfg.PKCE.KeyPrefix,
		TTL:           time.Duration(cfg.PKCE.ExpirationMinutes) * time.Minute,
		VerifierBytes: cfg.PKCE.VerifierBytes,
		StateBytes:    cfg.PKCE.StateBytes,
		InstanceID:    instance.ID(),
	})
	if err != nil {
		return nil, nil, nil, err
	}

	backend := auth.NewGotrueClient(auth.GotrueOptions{
		URL:     cfg.Backend.URL,
		AnonKey: cfg.Backend.AnonKey,
		Timeout: time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
	})

	sessions, err := auth.NewSessionFileStore("")
	if err != nil {
		return nil, nil, nil, err
	}
	if stored, err := sessions.Load(); err != nil {
		log.Warnf("failed to restore stored session: %v", err)
	} else if stored != nil {
		backend.SetSession(stored)
	}

	client := auth.NewClient(backend, states, auth.ClientOptions{
		Provider:    cfg.OAuth.Provider,
		Scopes:      cfg.OAuth.Scopes,
		RedirectURL: cfg.OAuth.RedirectURL,
		Retry: auth.RetryConfig{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			BaseDelay:       time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
			MaxDelay:        time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
			ExponentialBase: cfg.Retry.ExponentialBase,
			Jitter:          cfg.Retry.Jitter,
		},
		InstanceID: instance.ID(),
	})
	return client, sessions, states, nil
}

// buildStateStores instantiates the configured PKCE store tiers in priority order.
func buildStateStores(cfg *config.Config) ([]auth.StateStore, error) {
	var stores []auth.StateStore
	for _, name := range cfg.PKCE.StorePriority {
		switch name {
		case "redis":
			if cfg.Redis.Addr == "" {
				log.Debug("redis store configured in priority list but no address set, skipping")
				continue
			}
			stores = append(stores, auth.NewRedisStateStore(redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})))
		case "file":
			fileStore, err := auth.NewFileStateStore(cfg.PKCE.StateDir)
			if err != nil {
				return nil, err
			}
			stores = append(stores, fileStore)
		case "memory":
			stores = append(stores, auth.NewMemoryStateStore())
		default:
			return nil, fmt.Errorf("unknown state store %q in store-priority", name)
		}
	}
	if len(stores) == 0 {
		return nil, fmt.Errorf("store-priority resolved to no usable state stores")
	}
	return stores, nil
}

func runLogin(ctx context.Context, cfg *config.Config, client *auth.Client, states *auth.StateManager, sessions *auth.SessionFileStore, noBrowser bool, redirectTo string) error {
	begin := client.BeginSignIn(ctx, redirectTo)
	if !begin.Success {
		return fmt.Errorf("sign-in failed: %s", begin.Err.UserMessage)
	}

	server := callback.NewServer(cfg.OAuth.CallbackPort)
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start callback listener: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(shutdownCtx)
	}()

	fmt.Println("Open the following URL to sign in:")
	fmt.Println(begin.Data.URL)
	if !noBrowser {
		if err := browser.OpenURL(begin.Data.URL); err != nil {
			log.Warnf("failed to open browser: %v", err)
		}
	}
	client.AwaitCallback()

	// Sweep expired exchange states while the user is at the consent screen.
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.PKCE.CleanupIntervalMinutes) * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				states.CleanupExpired(sweepCtx)
			}
		}
	}()

	result, err := server.WaitForCallback(callbackWait)
	if err != nil {
		return fmt.Errorf("sign-in failed: %w", err)
	}
	if result.Error != "" {
		detail := result.Error
		if result.ErrorDescription != "" {
			detail += ": " + result.ErrorDescription
		}
		classified := auth.Classify(fmt.Errorf("oauth provider error: %s", detail), instance.ID())
		return fmt.Errorf("sign-in failed: %s", classified.UserMessage)
	}

	state := begin.Data.State
	if result.State != "" {
		state = result.State
	}
	exchange := client.ExchangeCodeForSession(ctx, result.Code, state)
	if !exchange.Success {
		return fmt.Errorf("sign-in failed: %s", exchange.Err.UserMessage)
	}
	if err = sessions.Save(exchange.Data); err != nil {
		log.Warnf("failed to persist session: %v", err)
	}

	fmt.Printf("Signed in as %s (%d attempt(s), %s)\n", userEmail(exchange.Data), exchange.Metadata.Attempts, exchange.Metadata.Latency.Round(time.Millisecond))
	return nil
}

func runRefresh(ctx context.Context, client *auth.Client, sessions *auth.SessionFileStore) error {
	result := client.RefreshSession(ctx)
	if !result.Success {
		return fmt.Errorf("refresh failed: %s", result.Err.UserMessage)
	}
	if err := sessions.Save(result.Data); err != nil {
		log.Warnf("failed to persist session: %v", err)
	}
	fmt.Printf("Session refreshed, valid until %s\n", result.Data.ExpiresAt.Format(time.RFC3339))
	return nil
}

func runStatus(ctx context.Context, client *auth.Client) error {
	result := client.GetCurrentSession(ctx)
	if !result.Success {
		return fmt.Errorf("status check failed: %s", result.Err.UserMessage)
	}
	if result.Data == nil {
		fmt.Println("Not signed in.")
		return nil
	}
	fmt.Printf("Signed in as %s\n", userEmail(result.Data))
	if !result.Data.ExpiresAt.IsZero() {
		fmt.Printf("Session expires at %s", result.Data.ExpiresAt.Format(time.RFC3339))
		if result.Data.Expired() {
			fmt.Print(" (expired, run -refresh)")
		}
		fmt.Println()
	}
	return nil
}

func runLogout(ctx context.Context, client *auth.Client, sessions *auth.SessionFileStore) error {
	result := client.SignOut(ctx)
	if err := sessions.Delete(); err != nil {
		log.Warnf("failed to remove stored session: %v", err)
	}
	if !result.Success {
		return fmt.Errorf("sign-out failed: %s", result.Err.UserMessage)
	}
	fmt.Println("Signed out.")
	return nil
}

func runHealth(ctx context.Context, client *auth.Client) error {
	result := client.HealthCheck(ctx)
	if !result.Success {
		return fmt.Errorf("backend unreachable: %s", result.Err.UserMessage)
	}
	fmt.Printf("Backend %s (%s)\n", result.Data.Status, result.Data.Latency.Round(time.Millisecond))
	return nil
}

// userEmail pulls the email out of the opaque user payload for display.
func userEmail(session *auth.Session) string {
	if session == nil || len(session.User) == 0 {
		return "unknown user"
	}
	if email := gjson.GetBytes(session.User, "email").String(); email != "" {
		return email
	}
	return "unknown user"
}
