package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/fieldsync/internal/client/auth"
)

func (c *Cli) runRegister(ctx context.Context) error {
	c.io.Println("=== Register ===")
	c.io.Println("")

	username, err := c.io.ReadInput("Username: ")
	if err != nil {
		return fmt.Errorf("failed to read username: %w", err)
	}

	password, err := c.io.ReadPassword("Password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	confirm, err := c.io.ReadPassword("Confirm password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}

	userID, err := c.auth.Register(ctx, username, password)
	if err != nil {
		return err
	}

	c.io.Println("")
	c.io.Println("Registration successful.")
	c.io.Printf("User ID: %s\n", userID)
	c.io.Println("Run 'fieldsync login' to start a session.")

	return nil
}

func (c *Cli) runLogin(ctx context.Context) error {
	c.io.Println("=== Login ===")
	c.io.Println("")

	username, err := c.io.ReadInput("Username: ")
	if err != nil {
		return fmt.Errorf("failed to read username: %w", err)
	}

	password, err := c.io.ReadPassword("Password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	session, err := c.auth.Login(ctx, username, password)
	if err != nil {
		return err
	}

	c.io.Println("")
	c.io.Printf("Logged in as %s.\n", session.Username)
	c.io.Printf("Token expires: %s\n", session.ExpiresAt.Format(time.RFC3339))

	return nil
}

func (c *Cli) runLogout(ctx context.Context) error {
	if err := c.auth.Logout(ctx); err != nil {
		return err
	}
	c.io.Println("Logged out.")
	return nil
}

func (c *Cli) runStatus(ctx context.Context) error {
	c.io.Println("=== Status ===")
	c.io.Println("")

	session, err := c.auth.CurrentSession(ctx)
	switch {
	case errors.Is(err, auth.ErrNotAuthenticated):
		c.io.Println("Session: not authenticated")
		c.io.Println("Run 'fieldsync login' to authenticate.")
		return nil
	case err != nil:
		return err
	}

	c.io.Printf("Session: %s (token expires %s)\n",
		session.Username, session.ExpiresAt.Format(time.RFC3339))
	c.io.Printf("Device:  %s\n", c.engine.DeviceID())

	state := c.engine.Rendered()
	c.io.Printf("List:    version %d, %d addresses, %d completions\n",
		state.CurrentListVersion, len(state.Addresses), len(state.Completions))
	if state.ActiveIndex != nil {
		c.io.Printf("Active:  address #%d\n", *state.ActiveIndex)
	}

	stats, err := c.engine.QueueStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get queue stats: %w", err)
	}

	if stats.Total == 0 {
		c.io.Println("Queue:   empty, all operations synchronized")
	} else {
		c.io.Printf("Queue:   %d pending (%d ready, %d waiting)\n",
			stats.Total, stats.Ready, stats.Waiting)
		c.io.Println("Run 'fieldsync sync' to push pending operations.")
	}

	dead, err := c.engine.DeadLetters(ctx)
	if err != nil {
		return fmt.Errorf("failed to get dead letters: %w", err)
	}
	if len(dead) > 0 {
		c.io.Printf("Failed:  %d operations need manual review ('fieldsync deadletter')\n", len(dead))
	}

	if conflicts := c.engine.Conflicts(); len(conflicts) > 0 {
		c.io.Printf("Conflicts: %d unresolved ('fieldsync conflicts')\n", len(conflicts))
	}

	return nil
}
