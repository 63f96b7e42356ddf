package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	calendarimpl "github.com/foxseedlab/voicecal/external/calendar"
	"github.com/foxseedlab/voicecal/internal/schedule"
)

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	app := &cli.App{
		Name:  "calendar-auth",
		Usage: "Authorize voicecal to read and write a Google calendar.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "client-id", EnvVars: []string{"GOOGLE_CLIENT_ID"}, Required: true},
			&cli.StringFlag{Name: "client-secret", EnvVars: []string{"GOOGLE_CLIENT_SECRET"}, Required: true},
			&cli.StringFlag{Name: "token-file", EnvVars: []string{"GOOGLE_CALENDAR_TOKEN_FILE"}, Value: "token.json"},
		},
		Commands: []*cli.Command{
			loginCommand(),
			checkCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("calendar-auth failed", "error", err)
		os.Exit(1)
	}
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Run the OAuth flow and write the token file.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "code", Usage: "authorization code; prompted for when omitted"},
		},
		Action: func(c *cli.Context) error {
			config := calendarimpl.OAuthConfig(c.String("client-id"), c.String("client-secret"))
			code := strings.TrimSpace(c.String("code"))
			if code == "" {
				authURL := config.AuthCodeURL("voicecal", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
				fmt.Printf("Open the following link in your browser, then paste the authorization code:\n%s\n", authURL)
				fmt.Print("Authorization code: ")
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil {
					return fmt.Errorf("read authorization code: %w", err)
				}
				code = strings.TrimSpace(line)
			}
			if code == "" {
				return errors.New("authorization code is empty")
			}

			token, err := config.Exchange(c.Context, code)
			if err != nil {
				return fmt.Errorf("exchange authorization code: %w", err)
			}
			if token.RefreshToken == "" {
				slog.Warn("token has no refresh token; the backend will stop working when it expires")
			}
			path := c.String("token-file")
			if err := calendarimpl.SaveToken(path, token); err != nil {
				return err
			}
			slog.Info("saved calendar token", "file", path)
			return nil
		},
	}
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Verify the token file by listing today's events.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "calendar-id", EnvVars: []string{"GOOGLE_CALENDAR_ID"}, Value: "primary"},
			&cli.StringFlag{Name: "timezone", EnvVars: []string{"DEFAULT_TIMEZONE"}, Value: "UTC"},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
			defer cancel()
			svc, err := calendarimpl.NewGoogleService(ctx, calendarimpl.GoogleConfig{
				ClientID:     c.String("client-id"),
				ClientSecret: c.String("client-secret"),
				TokenFile:    c.String("token-file"),
			})
			if err != nil {
				return err
			}

			loc, err := time.LoadLocation(c.String("timezone"))
			if err != nil {
				return fmt.Errorf("invalid timezone %q: %w", c.String("timezone"), err)
			}
			now := time.Now().In(loc)
			dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
			window, err := schedule.NewTimeRange(dayStart, dayStart.AddDate(0, 0, 1), loc.String())
			if err != nil {
				return err
			}

			events, err := calendarimpl.NewGoogleCalendar(svc, c.String("calendar-id")).FetchEvents(ctx, loc.String(), window)
			if err != nil {
				return err
			}
			fmt.Printf("Token works. %d timed event(s) today on %s.\n", len(events), c.String("calendar-id"))
			for _, ev := range events {
				fmt.Printf("  %s  %s\n", ev.Range.Start().Format("15:04"), ev.Title)
			}
			return nil
		},
	}
}
