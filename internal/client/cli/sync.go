package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iudanet/fieldsync/internal/models"
)

func (c *Cli) runSync(ctx context.Context) error {
	c.io.Println("Synchronizing...")

	merge, err := c.engine.MergeRemote(ctx)
	if err != nil {
		return fmt.Errorf("pull failed: %w", err)
	}

	drain, err := c.engine.DrainRetries(ctx)
	if err != nil {
		return fmt.Errorf("push failed: %w", err)
	}

	c.io.Println("")
	c.io.Printf("Pulled:  %d applied, %d skipped, %d held back\n",
		merge.Applied, merge.Skipped, merge.Held)
	if merge.Rejected > 0 {
		c.io.Printf("         %d rejected (bad timestamps)\n", merge.Rejected)
	}
	if merge.Gaps > 0 {
		c.io.Printf("Warning: %d sequence gaps detected, possible data loss\n", merge.Gaps)
	}
	if merge.Conflicts > 0 {
		c.io.Printf("Conflicts: %d recorded ('fieldsync conflicts')\n", merge.Conflicts)
	}

	c.io.Printf("Pushed:  %d retried", drain.Retried)
	if drain.Failed > 0 {
		c.io.Printf(", %d still failing", drain.Failed)
	}
	if drain.Dropped > 0 {
		c.io.Printf(", %d rejected by server", drain.Dropped)
	}
	c.io.Println("")

	return nil
}

func (c *Cli) runQueue(ctx context.Context) error {
	stats, err := c.engine.QueueStats(ctx)
	if err != nil {
		return err
	}

	c.io.Println("=== Retry Queue ===")
	c.io.Printf("Total:   %d\n", stats.Total)
	c.io.Printf("Ready:   %d\n", stats.Ready)
	c.io.Printf("Waiting: %d\n", stats.Waiting)
	if stats.OldestRetry != nil {
		c.io.Printf("Next retry: %s\n", stats.OldestRetry.Format(time.RFC3339))
	}

	return nil
}

func (c *Cli) runDeadLetter(ctx context.Context) error {
	dead, err := c.engine.DeadLetters(ctx)
	if err != nil {
		return err
	}

	if len(dead) == 0 {
		c.io.Println("No permanently failed operations.")
		return nil
	}

	c.io.Printf("%d permanently failed operations:\n", len(dead))
	c.io.Println("")
	for _, item := range dead {
		c.io.Printf("  %s seq=%d attempts=%d failed=%s\n",
			item.Operation.Type,
			item.Operation.Sequence,
			item.Attempts,
			item.FailedAt.Format(time.RFC3339))
		c.io.Printf("    %s\n", item.Error)
	}

	return nil
}

func (c *Cli) runClearQueue(ctx context.Context) error {
	stats, err := c.engine.QueueStats(ctx)
	if err != nil {
		return err
	}
	if stats.Total == 0 {
		c.io.Println("Retry queue is already empty.")
		return nil
	}

	c.io.Printf("This will drop %d pending operations. They will NOT reach the server.\n", stats.Total)
	answer, err := c.io.ReadInput("Type 'yes' to confirm: ")
	if err != nil {
		return err
	}
	if strings.ToLower(strings.TrimSpace(answer)) != "yes" {
		c.io.Println("Aborted.")
		return nil
	}

	if err := c.engine.ClearQueue(ctx); err != nil {
		return err
	}

	c.io.Printf("Dropped %d operations.\n", stats.Total)

	return nil
}

func (c *Cli) runConflicts(ctx context.Context) error {
	conflicts := c.engine.Conflicts()
	if len(conflicts) == 0 {
		c.io.Println("No unresolved conflicts.")
		return nil
	}

	c.io.Printf("%d unresolved conflicts:\n", len(conflicts))
	c.io.Println("")
	for _, conflict := range conflicts {
		c.io.Printf("  %s (%s), suggested: %s\n", conflict.ID, conflict.Type, conflict.Resolution)
	}
	c.io.Println("")
	c.io.Println("Resolve with 'fieldsync resolve <id> <incoming|existing>'.")

	return nil
}

func (c *Cli) runResolve(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: resolve <id> <incoming|existing>")
	}

	var resolution models.Resolution
	switch args[1] {
	case "incoming":
		resolution = models.PreferIncoming
	case "existing":
		resolution = models.PreferExisting
	default:
		return fmt.Errorf("unknown resolution %q, want incoming or existing", args[1])
	}

	if err := c.engine.ResolveConflict(ctx, args[0], resolution); err != nil {
		return err
	}

	c.io.Printf("Conflict %s resolved, kept %s version.\n", args[0], args[1])

	return nil
}
