package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mentormodule/pkg/authstate"
)

var errNotSignedIn = errors.New("not signed in; run `mentorctl login`")

func loginCmd(o *options) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in through the identity provider",
		Long: `Sign in through the identity provider.

A local listener receives the provider redirect, so the callback port
must be registered as a redirect URI for the client id.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd.Context(), o, timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for the browser")
	return cmd
}

func runLogin(ctx context.Context, o *options, timeout time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	auth, _ := o.newAuth(func(u string) error {
		info("Open this URL in your browser to sign in:")
		fmt.Println(u)
		return nil
	})
	defer auth.Close()

	if st, err := auth.Init(ctx); err != nil {
		return err
	} else if st == authstate.StateAuthenticated {
		snap := auth.Snapshot()
		warn("already signed in as %s; run `mentorctl logout` first", snap.User.Email)
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", o.callback))
	if err != nil {
		return fmt.Errorf("listen for callback: %w", err)
	}
	done := make(chan error, 1)
	var result *authstate.CallbackResult
	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/callback" {
				http.NotFound(w, r)
				return
			}
			q := r.URL.Query()
			res, err := auth.CompleteCallback(r.Context(), authstate.CallbackParams{
				Code:             q.Get("code"),
				State:            q.Get("state"),
				Error:            q.Get("error"),
				ErrorDescription: q.Get("error_description"),
			})
			if err != nil {
				http.Error(w, "Sign in failed: "+err.Error(), http.StatusBadRequest)
				// a stray redirect must not end a login still in progress
				if errors.Is(err, authstate.ErrStateMismatch) {
					return
				}
			} else {
				result = res
				fmt.Fprintln(w, "Signed in. You can close this window.")
			}
			select {
			case done <- err:
			default:
			}
		}),
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	if _, err := auth.Login(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("login not completed: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return err
		}
	}
	snap := auth.Snapshot()
	success("Signed in as %s (%s)", snap.User.FullName, snap.User.Role)
	info("Landing page: %s", result.RedirectURL)
	info("Session expires %s", formatUntil(snap.ExpiresAt))
	return nil
}

func logoutCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out everywhere and forget local credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, _ := o.newAuth(nil)
			defer auth.Close()
			if _, err := auth.Init(cmd.Context()); err != nil {
				return err
			}
			if err := auth.Logout(cmd.Context()); err != nil {
				return err
			}
			success("Signed out")
			return nil
		},
	}
}

func whoamiCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, err := o.signedIn(cmd.Context())
			if err != nil {
				return err
			}
			defer auth.Close()
			snap := auth.Snapshot()
			fmt.Printf("%s <%s>\n", snap.User.FullName, snap.User.Email)
			info("role:       %s", snap.User.Role)
			info("id:         %s", snap.User.ID)
			if snap.SessionID != "" {
				info("session:    %s", snap.SessionID)
			}
			info("expires:    %s", formatUntil(snap.ExpiresAt))
			return nil
		},
	}
}

func refreshCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the access token now",
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, err := o.signedIn(cmd.Context())
			if err != nil {
				return err
			}
			defer auth.Close()
			if _, err := auth.Refresh(cmd.Context()); err != nil {
				return err
			}
			success("Token refreshed, expires %s", formatUntil(auth.Snapshot().ExpiresAt))
			return nil
		},
	}
}

func mentorsCmd(o *options) *cobra.Command {
	var (
		department string
		active     string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "mentors [id]",
		Short: "List mentors, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/mentors"
			q := url.Values{}
			if len(args) == 1 {
				path += "/" + url.PathEscape(args[0])
			} else {
				setIf(q, "department_id", department)
				setIf(q, "active", active)
				if limit > 0 {
					q.Set("limit", strconv.Itoa(limit))
				}
			}
			return o.getJSON(cmd.Context(), path, q)
		},
	}
	cmd.Flags().StringVar(&department, "department", "", "filter by department id")
	cmd.Flags().StringVar(&active, "active", "", "filter by active flag (true or false)")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size")
	return cmd
}

func studentsCmd(o *options) *cobra.Command {
	var department, year, search string
	cmd := &cobra.Command{
		Use:   "students [id]",
		Short: "List students from the data service, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/students"
			q := url.Values{}
			if len(args) == 1 {
				path += "/" + url.PathEscape(args[0])
			} else {
				setIf(q, "department_id", department)
				setIf(q, "year", year)
				setIf(q, "search", search)
			}
			return o.getJSON(cmd.Context(), path, q)
		},
	}
	cmd.Flags().StringVar(&department, "department", "", "filter by department id")
	cmd.Flags().StringVar(&year, "year", "", "filter by year of study")
	cmd.Flags().StringVar(&search, "search", "", "name search")
	return cmd
}

func watchCmd(o *options) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the session alive until interrupted",
		Long: `Keep the session alive until interrupted.

The access token is refreshed shortly before it expires. The session
state is printed whenever it changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			auth, err := o.signedIn(ctx)
			if err != nil {
				return err
			}
			defer auth.Close()
			return watch(ctx, auth, every)
		},
	}
	cmd.Flags().DurationVar(&every, "interval", 30*time.Second, "how often to check the session")
	return cmd
}

func watch(ctx context.Context, auth *authstate.Context, every time.Duration) error {
	last := auth.Snapshot()
	info("watching session, expires %s", formatUntil(last.ExpiresAt))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		snap := auth.Snapshot()
		if snap.State != authstate.StateAuthenticated {
			return errors.New("session ended; sign in again")
		}
		if !snap.ExpiresAt.Equal(last.ExpiresAt) {
			success("token refreshed, expires %s", formatUntil(snap.ExpiresAt))
		}
		last = snap
	}
}

// signedIn restores the stored session, refreshing it when needed.
func (o *options) signedIn(ctx context.Context) (*authstate.Context, error) {
	auth, _ := o.newAuth(nil)
	st, err := auth.Init(ctx)
	if err != nil {
		auth.Close()
		return nil, err
	}
	if st != authstate.StateAuthenticated {
		auth.Close()
		return nil, errNotSignedIn
	}
	return auth, nil
}

// getJSON calls an API route with the session and pretty prints the body.
func (o *options) getJSON(ctx context.Context, path string, q url.Values) error {
	auth, err := o.signedIn(ctx)
	if err != nil {
		return err
	}
	defer auth.Close()

	u := o.server + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := auth.Client(nil).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decode(resp, nil)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		_, err = os.Stdout.Write(raw)
		return err
	}
	out.WriteByte('\n')
	_, err = out.WriteTo(os.Stdout)
	return err
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}
