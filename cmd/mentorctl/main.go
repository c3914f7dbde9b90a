package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"mentormodule/pkg/authstate"
	"mentormodule/pkg/idp"
)

type options struct {
	server      string
	idpURL      string
	clientID    string
	credentials string
	redisAddr   string
	callback    int
	verbose     bool
}

func main() {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   "mentorctl",
		Short: "Command line client for the mentor module",
		Long: `mentorctl signs in through the institution identity provider and
calls the mentor module API with the resulting session.

Credentials are kept in a file readable only by you and are refreshed
before they expire.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.server, "server", envOr("MENTOR_SERVER", "http://localhost:8081"), "mentor module base URL")
	pf.StringVar(&opts.idpURL, "idp", envOr("MENTOR_IDP_BASE_URL", "http://localhost:8080"), "identity provider base URL")
	pf.StringVar(&opts.clientID, "client-id", envOr("MENTOR_IDP_CLIENT_ID", "mentor-module"), "identity provider client id")
	pf.StringVar(&opts.credentials, "credentials", defaultCredentialsPath(), "credentials file")
	pf.StringVar(&opts.redisAddr, "redis", os.Getenv("MENTORCTL_REDIS_ADDR"), "keep credentials in Redis instead of a file (host:port)")
	pf.IntVar(&opts.callback, "callback-port", 8765, "local port receiving the login redirect")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(
		loginCmd(opts),
		logoutCmd(opts),
		whoamiCmd(opts),
		refreshCmd(opts),
		mentorsCmd(opts),
		studentsCmd(opts),
		watchCmd(opts),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultCredentialsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "mentorctl", "credentials.json")
}

func (o *options) redirectURI() string {
	return fmt.Sprintf("http://127.0.0.1:%d/callback", o.callback)
}

// newAuth builds the authentication context over the credentials file.
func (o *options) newAuth(navigate authstate.Navigator) (*authstate.Context, *apiClient) {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	api := newAPIClient(o.server, &http.Client{Timeout: 30 * time.Second})
	provider := idp.NewClient(idp.Config{BaseURL: o.idpURL, ClientID: o.clientID, RedirectURL: o.redirectURI()})
	auth := authstate.New(authstate.Config{
		RedirectURI: o.redirectURI(),
		Navigate:    navigate,
		Logger:      logger,
	}, authstate.Deps{
		Storage:   o.storage(),
		Refresher: api,
		Exchanger: api,
		Sessions:  api,
		AuthURL:   provider,
	})
	return auth, api
}

// storage keeps credentials in the file unless a Redis address is given, in which case
// they live in a hash owned by the local user name.
func (o *options) storage() authstate.Storage {
	if o.redisAddr == "" {
		return authstate.NewFileStorage(o.credentials)
	}
	owner := "default"
	if u, err := user.Current(); err == nil {
		owner = u.Username
	}
	rdb := redis.NewClient(&redis.Options{Addr: o.redisAddr})
	return authstate.NewRedisStorage(rdb, owner)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}

func formatUntil(t time.Time) string {
	d := time.Until(t).Round(time.Second)
	if d <= 0 {
		return "expired"
	}
	return "in " + d.String()
}
