package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"piggybank/internal/amqp"
	"piggybank/internal/cli"
	"piggybank/internal/config"
	"piggybank/internal/core"
	"piggybank/internal/log"
	"piggybank/internal/services"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}
	cmd := os.Args[1]
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage(os.Stdout)
		return
	}

	cli.LoadEnvFile()
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := log.New(log.Config{
		Component: log.ComponentCLI,
		Handler:   slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: log.ParseLevel(cfg.LogLevel)}),
	})

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	if cmd == "events" {
		if err := runEvents(ctx, cfg, logger, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		return
	}

	backend, err := cli.OpenStore(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	bank, err := services.NewBank(ctx, backend.Store, services.WithLogger(logger))
	if err != nil {
		_ = backend.Cleanup()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	runErr := execute(ctx, bank, os.Args[1:], os.Stdout)
	if err := bank.Close(); err != nil {
		logger.Error("Failed to close snapshot store", log.FieldError, err)
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, "Error:", runErr)
		if errors.Is(runErr, errUsage) {
			printUsage(os.Stderr)
		}
		os.Exit(1)
	}
}

var errUsage = errors.New("invalid usage")

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "piggybank operator CLI")
	fmt.Fprintln(w, "\nUsage:")
	fmt.Fprintln(w, "  piggyctl <command> [options]")
	fmt.Fprintln(w, "\nCommands:")
	fmt.Fprintln(w, "  balance        Show available balance and total savings")
	fmt.Fprintln(w, "  transactions   List transactions, newest first")
	fmt.Fprintln(w, "  deposits       List deposits")
	fmt.Fprintln(w, "  add            Record income or an expense")
	fmt.Fprintln(w, "  categories     List categories accepted by add")
	fmt.Fprintln(w, "  deposit        Open a term deposit")
	fmt.Fprintln(w, "  quote          Preview a term deposit")
	fmt.Fprintln(w, "  withdraw       Close a deposit early (guardian)")
	fmt.Fprintln(w, "  rates          Show interest rates per term")
	fmt.Fprintln(w, "  set-rates      Change interest rates (guardian)")
	fmt.Fprintln(w, "  clear          Remove every transaction (guardian)")
	fmt.Fprintln(w, "  reconcile      Credit matured deposits now")
	fmt.Fprintln(w, "  events         Follow ledger events from AMQP")
	fmt.Fprintln(w, "\nGuardian commands read -secret or PIGGYBANK_SECRET.")
	fmt.Fprintln(w, "Run 'piggyctl <command> -h' for more information on a command.")
}

// execute runs one subcommand against bank and writes its output to out.
func execute(ctx context.Context, bank *services.Bank, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	name, rest := args[0], args[1:]
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	secret := fs.String("secret", os.Getenv("PIGGYBANK_SECRET"), "guardian secret")

	switch name {
	case "balance":
		if err := fs.Parse(rest); err != nil {
			return err
		}
		sum, err := bank.Summary(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Available: %s\nSavings:   %s\n", sum.AvailableBalance, sum.TotalSavings)
		for _, id := range sum.JustMatured {
			fmt.Fprintf(out, "Matured:   %s\n", id)
		}
		return nil

	case "transactions":
		limit := fs.Int("n", 0, "show at most n transactions (0 = all)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		txs, err := bank.Transactions(ctx)
		if err != nil {
			return err
		}
		if *limit > 0 && len(txs) > *limit {
			txs = txs[:*limit]
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "DATE\tKIND\tCATEGORY\tAMOUNT\tTITLE")
		for _, tx := range txs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				tx.OccurredAt.Format(time.DateOnly), tx.Kind, tx.Category, tx.Signed(), tx.Title)
		}
		return tw.Flush()

	case "deposits":
		if err := fs.Parse(rest); err != nil {
			return err
		}
		deps, err := bank.Deposits(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tPRINCIPAL\tTERM\tRATE\tRETURN\tMATURES")
		for _, d := range deps {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%dm\t%s%%\t%s\t%s\n",
				d.ID, d.Status, d.Principal, d.TermMonths, d.AnnualRatePercent, d.TotalReturn,
				d.MaturityAt.Format(time.DateOnly))
		}
		return tw.Flush()

	case "add":
		title := fs.String("title", "", "transaction title")
		amount := fs.String("amount", "", "amount, e.g. 12.50")
		kind := fs.String("kind", string(core.Expense), "income or expense")
		category := fs.String("category", "", "category, see 'piggyctl categories'")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		m, err := core.ParseMoney(*amount)
		if err != nil {
			return fmt.Errorf("-amount: %w", err)
		}
		tx, err := bank.AddTransaction(ctx, services.TransactionInput{
			Title:    *title,
			Amount:   m,
			Kind:     core.TransactionKind(*kind),
			Category: core.Category(*category),
			Secret:   *secret,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Recorded %s %s (%s)\n", tx.Kind, tx.Amount, tx.ID)
		return nil

	case "categories":
		if err := fs.Parse(rest); err != nil {
			return err
		}
		for _, c := range core.UserCategories() {
			fmt.Fprintln(out, c)
		}
		return nil

	case "deposit", "quote":
		amount := fs.String("amount", "", "principal, e.g. 60.00")
		term := fs.Int("term", 0, "term in months (1, 3, 6 or 12)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		m, err := core.ParseMoney(*amount)
		if err != nil {
			return fmt.Errorf("-amount: %w", err)
		}
		if name == "quote" {
			q, err := bank.QuoteDeposit(ctx, m, *term)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s for %d months at %s%%: interest %s, total %s on %s\n",
				q.Principal, q.TermMonths, q.AnnualRatePercent, q.Interest, q.Total, q.MaturityAt.Format(time.DateOnly))
			return nil
		}
		d, err := bank.CreateDeposit(ctx, m, *term)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Deposit %s: %s returns %s on %s\n", d.ID, d.Principal, d.TotalReturn, d.MaturityAt.Format(time.DateOnly))
		return nil

	case "withdraw":
		id := fs.String("id", "", "deposit id")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *id == "" {
			return fmt.Errorf("%w: -id is required", errUsage)
		}
		d, err := bank.WithdrawDeposit(ctx, *id, *secret)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Deposit %s withdrawn, %s returned\n", d.ID, d.Principal)
		return nil

	case "rates":
		if err := fs.Parse(rest); err != nil {
			return err
		}
		rates := bank.Rates(ctx)
		for _, term := range rates.Terms() {
			fmt.Fprintf(out, "%2d months  %s%%\n", term, rates[term])
		}
		return nil

	case "set-rates":
		if err := fs.Parse(rest); err != nil {
			return err
		}
		table, err := parseRateArgs(fs.Args())
		if err != nil {
			return err
		}
		if err := bank.UpdateTermInterestRates(ctx, table, *secret); err != nil {
			return err
		}
		fmt.Fprintf(out, "Updated %d rate(s)\n", len(table))
		return nil

	case "clear":
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if err := bank.ClearTransactions(ctx, *secret); err != nil {
			return err
		}
		fmt.Fprintln(out, "All transactions removed")
		return nil

	case "reconcile":
		if err := fs.Parse(rest); err != nil {
			return err
		}
		matured, err := bank.Reconcile(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d deposit(s) matured\n", len(matured))
		for _, d := range matured {
			fmt.Fprintf(out, "  %s credited %s\n", d.ID, d.TotalReturn)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
}

// parseRateArgs reads TERM=PERCENT pairs such as 3=4.5.
func parseRateArgs(args []string) (core.RateTable, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: expected TERM=PERCENT pairs", errUsage)
	}
	table := core.RateTable{}
	for _, arg := range args {
		termStr, rateStr, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q is not TERM=PERCENT", errUsage, arg)
		}
		term, err := strconv.Atoi(termStr)
		if err != nil {
			return nil, fmt.Errorf("%w: term %q", core.ErrInvalidTerm, termStr)
		}
		rate, err := decimal.NewFromString(rateStr)
		if err != nil {
			return nil, fmt.Errorf("%w: rate %q", core.ErrInvalidRate, rateStr)
		}
		table[term] = rate
	}
	return table, nil
}

// runEvents prints ledger events as they arrive until ctx is cancelled.
func runEvents(ctx context.Context, cfg *config.Config, logger *log.Logger, out io.Writer) error {
	if cfg.AMQPURL == "" {
		return errors.New("AMQP_URL is not set")
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	err = client.Consume(ctx, func(m *amqp.EventMessage) error {
		fmt.Fprintf(out, "%s  %-18s %s%s %s\n",
			m.OccurredAt.Format(time.RFC3339), m.Type, m.DepositID, m.TransactionID, m.Amount)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
