// Package bank is a demo application moving money on an account shared by every process.
package bank

import (
	"context"
	"distbank/internal/logging"
	"distbank/internal/utils/ioUtils"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInsufficientFunds is returned when a withdrawal exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrBalanceOverflow is returned when a deposit would exceed the largest representable balance.
	ErrBalanceOverflow = errors.New("balance overflow")
)

// Account is the shared account, as seen by one process.
type Account interface {
	Self() int
	Acquire(ctx context.Context) error
	Release()
	Balance() uint32
	SetBalance(v uint32) error
	AwaitPeers(ctx context.Context) error
}

// Config drives a run of the application.
type Config struct {
	// Number of scripted deposits.
	Iterations int
	// Pause before each scripted deposit.
	Interval time.Duration
	// Amount of each scripted deposit.
	Amount uint32
	// Read deposit, withdraw and balance commands once the script is done.
	Interactive bool
	// Period of the balance printer. Zero disables it.
	PrintInterval time.Duration
}

// App runs the demo on one process.
type App struct {
	logger   *logging.Logger
	ioStream ioutils.IOStream
	account  Account
	config   Config
}

// NewApp creates the application. Nothing happens until [App.Run] is called.
func NewApp(logger *logging.Logger, ioStream ioutils.IOStream, account Account, config Config) *App {
	return &App{logger: logger, ioStream: ioStream, account: account, config: config}
}

func (a *App) printf(format string, args ...interface{}) {
	a.ioStream.Println(fmt.Sprintf("[P%d] ", a.account.Self()) + fmt.Sprintf(format, args...))
}

// Runs f on the balance inside the critical section, and stores its result.
func (a *App) update(ctx context.Context, f func(uint32) (uint32, error)) (before, after uint32, err error) {
	if err := a.account.Acquire(ctx); err != nil {
		return 0, 0, err
	}
	defer a.account.Release()

	before = a.account.Balance()
	after, err = f(before)
	if err != nil {
		return before, before, err
	}
	if err := a.account.SetBalance(after); err != nil {
		return before, before, err
	}
	return before, after, nil
}

// Deposit adds amount to the balance and returns the balance before and after.
func (a *App) Deposit(ctx context.Context, amount uint32) (before, after uint32, err error) {
	return a.update(ctx, func(b uint32) (uint32, error) {
		if b > math.MaxUint32-amount {
			return b, fmt.Errorf("%w: %d + %d", ErrBalanceOverflow, b, amount)
		}
		return b + amount, nil
	})
}

// Withdraw takes amount from the balance and returns the balance before and after.
func (a *App) Withdraw(ctx context.Context, amount uint32) (before, after uint32, err error) {
	return a.update(ctx, func(b uint32) (uint32, error) {
		if amount > b {
			return b, fmt.Errorf("%w: %d > %d", ErrInsufficientFunds, amount, b)
		}
		return b - amount, nil
	})
}

/*
Run waits for the other processes, asks for confirmation, performs the scripted deposits and then, if configured, serves commands until the input ends or ctx is canceled.
*/
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.printf("Waiting for the other processes...")
	if err := a.account.AwaitPeers(ctx); err != nil {
		return err
	}

	if a.config.PrintInterval > 0 {
		go a.printBalance(ctx)
	}

	a.ioStream.Print(fmt.Sprintf("[P%d] Start test? (y/n): ", a.account.Self()))
	answer, err := a.ioStream.ReadLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if strings.TrimSpace(answer) != "y" {
		return nil
	}

	for i := 0; i < a.config.Iterations; i++ {
		select {
		case <-time.After(a.config.Interval):
		case <-ctx.Done():
			return ctx.Err()
		}

		before, after, err := a.Deposit(ctx, a.config.Amount)
		if err != nil {
			return err
		}
		a.printf("Old Balance: %d", before)
		a.printf("New Balance: %d", after)
	}

	if a.config.Interactive {
		return a.serveCommands(ctx)
	}
	return nil
}

// Prints the local copy of the balance periodically.
func (a *App) printBalance(ctx context.Context) {
	ticker := time.NewTicker(a.config.PrintInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.printf("Balance: %d", a.account.Balance())
		case <-ctx.Done():
			return
		}
	}
}

const usage = "commands: deposit <amount> | withdraw <amount> | balance | quit"

// Reads commands line by line until the input ends.
func (a *App) serveCommands(ctx context.Context) error {
	a.printf(usage)
	for {
		line, err := a.ioStream.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "deposit", "withdraw":
			amount, err := parseAmount(fields)
			if err != nil {
				a.printf("%v", err)
				continue
			}
			op := a.Deposit
			if fields[0] == "withdraw" {
				op = a.Withdraw
			}
			before, after, err := op(ctx, amount)
			if err != nil {
				a.logger.Warn(fields[0], " failed: ", err)
				a.printf("%s failed: %v", fields[0], err)
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			a.printf("Old Balance: %d", before)
			a.printf("New Balance: %d", after)
		case "balance":
			a.printf("Balance: %d", a.account.Balance())
		case "quit", "exit":
			return nil
		default:
			a.printf("unknown command %q; %s", fields[0], usage)
		}
	}
}

func parseAmount(fields []string) (uint32, error) {
	if len(fields) != 2 {
		return 0, fmt.Errorf("usage: %s <amount>", fields[0])
	}
	amount, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", fields[1])
	}
	return uint32(amount), nil
}
