package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/iudanet/fieldsync/internal/models"
)

func (c *Cli) runImport(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: import <file> [--preserve-completions]")
	}

	preserve := false
	for _, arg := range args[1:] {
		if arg == "--preserve-completions" {
			preserve = true
		}
	}

	addresses, err := readAddressFile(args[0])
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		return fmt.Errorf("file contains no addresses")
	}

	op, err := c.engine.NewOperation(ctx, models.OpAddressBulkImport, models.AddressBulkImportPayload{
		Addresses:           addresses,
		PreserveCompletions: preserve,
	})
	if err != nil {
		return err
	}
	if err := c.engine.Execute(ctx, op); err != nil {
		return err
	}

	state := c.engine.Rendered()
	c.io.Printf("Imported %d addresses (list version %d).\n", len(addresses), state.CurrentListVersion)
	if preserve {
		c.io.Println("Existing completions preserved.")
	}

	return nil
}

func (c *Cli) runAddAddress(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: add <address>")
	}

	address := strings.TrimSpace(strings.Join(args, " "))
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	op, err := c.engine.NewOperation(ctx, models.OpAddressAdd, models.AddressAddPayload{
		Address: models.Address{Address: address},
	})
	if err != nil {
		return err
	}
	if err := c.engine.Execute(ctx, op); err != nil {
		return err
	}

	state := c.engine.Rendered()
	c.io.Printf("Added address #%d: %s\n", len(state.Addresses)-1, address)

	return nil
}

func (c *Cli) runList(ctx context.Context) error {
	state := c.engine.Rendered()

	if len(state.Addresses) == 0 {
		c.io.Println("No addresses imported. Run 'fieldsync import <file>' first.")
		return nil
	}

	c.io.Printf("List version %d, %d addresses:\n", state.CurrentListVersion, len(state.Addresses))
	c.io.Println("")

	for i, addr := range state.Addresses {
		marker := " "
		if state.ActiveIndex != nil && *state.ActiveIndex == i {
			marker = ">"
		}

		note := ""
		if j := state.FindCompletion(i, state.CurrentListVersion); j >= 0 {
			done := state.Completions[j]
			note = fmt.Sprintf("  [%s", done.Outcome)
			if done.AmountPence > 0 {
				note += " " + models.FormatAmount(done.AmountPence)
			}
			note += "]"
		}

		c.io.Printf("%s %3d  %s%s\n", marker, i, addr.Address, note)
	}

	return nil
}

func (c *Cli) runStart(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: start <index>")
	}

	index, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid index %q", args[0])
	}

	state := c.engine.Rendered()
	if index < 0 || index >= len(state.Addresses) {
		return fmt.Errorf("index %d out of range, list has %d addresses", index, len(state.Addresses))
	}

	start := time.Now().UTC()
	op, err := c.engine.NewOperation(ctx, models.OpActiveIndexSet, models.ActiveIndexSetPayload{
		Index:     &index,
		StartTime: &start,
	})
	if err != nil {
		return err
	}
	if err := c.engine.Execute(ctx, op); err != nil {
		return err
	}

	c.io.Printf("Working address #%d: %s\n", index, state.Addresses[index].Address)

	return nil
}

func (c *Cli) runCancel(ctx context.Context) error {
	state := c.engine.Rendered()
	if state.ActiveIndex == nil {
		c.io.Println("No active address.")
		return nil
	}

	op, err := c.engine.NewOperation(ctx, models.OpActiveIndexSet, models.ActiveIndexSetPayload{})
	if err != nil {
		return err
	}
	if err := c.engine.Execute(ctx, op); err != nil {
		return err
	}

	c.io.Printf("Cancelled address #%d.\n", *state.ActiveIndex)

	return nil
}

func (c *Cli) runComplete(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: complete <index> <outcome> [amount]")
	}

	index, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid index %q", args[0])
	}
	outcome := args[1]

	var amountPence int64
	if len(args) >= 3 {
		amountPence, err = models.ParseAmount(args[2])
		if err != nil {
			return fmt.Errorf("invalid amount: %w", err)
		}
	}

	state := c.engine.Rendered()
	if index < 0 || index >= len(state.Addresses) {
		return fmt.Errorf("index %d out of range, list has %d addresses", index, len(state.Addresses))
	}

	now := time.Now().UTC()
	payload := models.CompletionCreatePayload{
		Timestamp:   now,
		Outcome:     outcome,
		AmountPence: amountPence,
		Index:       index,
		ListVersion: state.CurrentListVersion,
	}

	// Время на адресе считаем от старта активной работы
	if state.ActiveIndex != nil && *state.ActiveIndex == index && state.ActiveStartTime != nil {
		payload.TimeSpentSeconds = int(now.Sub(*state.ActiveStartTime).Seconds())
	}

	op, err := c.engine.NewOperation(ctx, models.OpCompletionCreate, payload)
	if err != nil {
		return err
	}
	if err := c.engine.Execute(ctx, op); err != nil {
		return err
	}

	c.io.Printf("Completed address #%d: %s", index, outcome)
	if amountPence > 0 {
		c.io.Printf(" %s", models.FormatAmount(amountPence))
	}
	c.io.Println("")

	return nil
}

// readAddressFile читает список адресов, по одному на строку.
// Пустые строки и строки с # пропускаются.
func readAddressFile(path string) ([]models.Address, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open address file: %w", err)
	}
	defer f.Close()

	var addresses []models.Address
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addresses = append(addresses, models.Address{Address: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read address file: %w", err)
	}

	return addresses, nil
}
