// Command trade submits a single intent from the command line:
//
//	trade open-position -market BTCPERP -side LONG ...
//	trade create-vault -collateral-token APT -borrow-token mUSD ...
//
// The signing key is read from PERPGATE_SIGNER_PRIVATE_KEY (a .env file in
// the working directory is loaded first).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/GoPolymarket/perpgate/internal/chain"
	"github.com/GoPolymarket/perpgate/internal/config"
	"github.com/GoPolymarket/perpgate/internal/manager"
	"github.com/GoPolymarket/perpgate/internal/model"
	"github.com/GoPolymarket/perpgate/internal/payload"
	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/perpgate/internal/pkg/logger"
	"github.com/GoPolymarket/perpgate/internal/protocol"
	"github.com/GoPolymarket/perpgate/internal/service"
	"github.com/GoPolymarket/perpgate/internal/signer"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	_ = godotenv.Load()

	var (
		intent model.Intent
		common commonFlags
		err    error
	)
	switch os.Args[1] {
	case "open-position":
		intent, err = parseOpenPosition(os.Args[2:], &common)
	case "create-vault":
		intent, err = parseCreateVault(os.Args[2:], &common)
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(intent, common); err != nil {
		appErr := apperrors.Wrap(err)
		fmt.Fprintf(os.Stderr, "%s\n", appErr.Error())
		if appErr.Suggestion != "" {
			fmt.Fprintf(os.Stderr, "hint: %s\n", appErr.Suggestion)
		}
		os.Exit(1)
	}
}

type commonFlags struct {
	network string
	dryRun  bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.network, "network", "", "network key from config (default chain.network)")
	fs.BoolVar(&c.dryRun, "dry-run", false, "print the encoded payload without signing or submitting")
}

func parseOpenPosition(args []string, common *commonFlags) (model.Intent, error) {
	fs := flag.NewFlagSet("open-position", flag.ContinueOnError)
	common.register(fs)
	market := fs.String("market", "BTCPERP", "perpetual market symbol")
	marginToken := fs.String("margin-token", "mUSD", "margin token symbol")
	margin := fs.String("margin", "1000", "margin amount")
	size := fs.String("size", "0.1", "position size")
	side := fs.String("side", "LONG", "LONG or SHORT")
	entry := fs.String("entry", "101000", "desired entry price")
	slippage := fs.Int64("slippage-bps", 1000, "maximum slippage in basis points")
	tp := fs.String("tp", "105000", "take-profit price, empty for none")
	sl := fs.String("sl", "95000", "stop-loss price, empty for none")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	req := model.OpenPositionRequest{
		Market:      *market,
		MarginToken: *marginToken,
		Side:        *side,
		SlippageBps: *slippage,
	}
	var err error
	if req.Margin, err = parseDecimal("margin", *margin); err != nil {
		return nil, err
	}
	if req.Size, err = parseDecimal("size", *size); err != nil {
		return nil, err
	}
	if req.EntryPrice, err = parseDecimal("entry", *entry); err != nil {
		return nil, err
	}
	if req.TakeProfit, err = parseOptional("tp", *tp); err != nil {
		return nil, err
	}
	if req.StopLoss, err = parseOptional("sl", *sl); err != nil {
		return nil, err
	}
	return req.ToIntent()
}

func parseCreateVault(args []string, common *commonFlags) (model.Intent, error) {
	fs := flag.NewFlagSet("create-vault", flag.ContinueOnError)
	common.register(fs)
	collateralToken := fs.String("collateral-token", "APT", "collateral token symbol")
	borrowToken := fs.String("borrow-token", "mUSD", "borrow token symbol")
	collateral := fs.String("collateral", "0.1", "collateral amount")
	borrow := fs.String("borrow", "0.01", "borrow amount")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	req := model.VaultRequest{CollateralToken: *collateralToken, BorrowToken: *borrowToken}
	var err error
	if req.Collateral, err = parseDecimal("collateral", *collateral); err != nil {
		return nil, err
	}
	if req.Borrow, err = parseDecimal("borrow", *borrow); err != nil {
		return nil, err
	}
	return req.ToCreateIntent(), nil
}

func run(intent model.Intent, flags commonFlags) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.LogLevel, "text")
	if flags.network != "" {
		cfg.Chain.Network = flags.network
	}
	netCfg, err := cfg.ActiveNetwork()
	if err != nil {
		return err
	}
	deployment, err := protocol.DeploymentFromConfig(netCfg)
	if err != nil {
		return err
	}
	builder, err := payload.NewBuilder(deployment)
	if err != nil {
		return err
	}

	d, err := builder.Build(intent)
	if err != nil {
		return err
	}
	if flags.dryRun {
		return printJSON(d.Preview())
	}

	id, err := signer.DeriveIdentity(cfg.Signer.PrivateKey)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Chain.ConfirmationTimeout()+30*time.Second)
	defer cancel()
	client, err := chain.Dial(ctx, netCfg, cfg.Chain)
	if err != nil {
		return err
	}

	orch := service.NewOrchestrator(client, manager.NewSequenceManager(), cfg.Chain.ConfirmationTimeout())
	fmt.Printf("Submitting %s from %s on %s\n", intent.Kind(), id.Address().Hex(), deployment.Network)
	result, err := orch.Submit(ctx, d, id)
	if result != nil {
		fmt.Printf("Transaction: %s\n", result.ExplorerURL)
		if perr := printJSON(result); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	if result.Status == model.StatusFailed {
		return fmt.Errorf("transaction %s reverted", result.TxHash)
	}
	return nil
}

func parseDecimal(name, raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("-%s: %w", name, err)
	}
	return v, nil
}

func parseOptional(name, raw string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := parseDecimal(name, raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: trade <command> [flags]

commands:
  open-position   open a market position with optional take-profit/stop-loss
  create-vault    create a vault, deposit collateral and borrow against it

run "trade <command> -h" for flags`)
}
