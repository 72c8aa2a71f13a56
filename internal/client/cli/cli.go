// Package cli реализует командный интерфейс клиента: авторизация,
// рабочие операции по адресам и управление синхронизацией.
package cli

import (
	"context"
	"fmt"

	"github.com/iudanet/fieldsync/internal/client/auth"
	"github.com/iudanet/fieldsync/internal/client/iocli"
	"github.com/iudanet/fieldsync/internal/client/sync"
)

// Cli связывает команды пользователя с auth сервисом и sync движком
type Cli struct {
	io     iocli.IO
	auth   *auth.Service
	engine *sync.Engine
}

// New creates a new CLI
func New(io iocli.IO, authService *auth.Service, engine *sync.Engine) *Cli {
	return &Cli{
		io:     io,
		auth:   authService,
		engine: engine,
	}
}

// Run выполняет команду и возвращает ошибку для кода выхода
func (c *Cli) Run(ctx context.Context, command string, args []string) error {
	switch command {
	case "register":
		return c.runRegister(ctx)
	case "login":
		return c.runLogin(ctx)
	case "logout":
		return c.runLogout(ctx)
	case "status":
		return c.runStatus(ctx)
	case "import":
		return c.runImport(ctx, args)
	case "add":
		return c.runAddAddress(ctx, args)
	case "list":
		return c.runList(ctx)
	case "start":
		return c.runStart(ctx, args)
	case "cancel":
		return c.runCancel(ctx)
	case "complete":
		return c.runComplete(ctx, args)
	case "sync":
		return c.runSync(ctx)
	case "queue":
		return c.runQueue(ctx)
	case "deadletter":
		return c.runDeadLetter(ctx)
	case "clear-queue":
		return c.runClearQueue(ctx)
	case "conflicts":
		return c.runConflicts(ctx)
	case "resolve":
		return c.runResolve(ctx, args)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// PrintUsage печатает справку по командам
func PrintUsage(io iocli.IO) {
	io.Println("FieldSync Client")
	io.Println("")
	io.Println("Usage:")
	io.Println("  fieldsync [OPTIONS] COMMAND")
	io.Println("")
	io.Println("Options:")
	io.Println("  --version        Show version information")
	io.Println("  --server URL     Server URL (default: http://localhost:8080)")
	io.Println("  --db PATH        Path to local database (default: fieldsync-client.db)")
	io.Println("")
	io.Println("Commands:")
	io.Println("  register                        Register new user")
	io.Println("  login                           Login to server")
	io.Println("  logout                          Logout and drop local session")
	io.Println("  status                          Show session, queue and sync status")
	io.Println("  import <file>                   Import address list (one address per line)")
	io.Println("  add <address>                   Append a single address to the list")
	io.Println("  list                            Show addresses and completions")
	io.Println("  start <index>                   Start working an address")
	io.Println("  cancel                          Cancel the active address")
	io.Println("  complete <index> <outcome> [amount]")
	io.Println("                                  Complete the address (PIF, DA, ARR, Done)")
	io.Println("  sync                            Pull remote operations and drain retries")
	io.Println("  queue                           Show retry queue statistics")
	io.Println("  deadletter                      List permanently failed operations")
	io.Println("  clear-queue                     Drop all pending retries (asks confirmation)")
	io.Println("  conflicts                       List unresolved sync conflicts")
	io.Println("  resolve <id> <incoming|existing>")
	io.Println("                                  Resolve a sync conflict")
	io.Println("")
	io.Println("Examples:")
	io.Println("  fieldsync register")
	io.Println("  fieldsync import round-42.txt")
	io.Println("  fieldsync start 3")
	io.Println("  fieldsync complete 3 PIF 120.50")
	io.Println("  fieldsync --server https://example.com sync")
}
