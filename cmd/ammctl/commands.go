package main

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ammLedger/internal/amm"
	"ammLedger/internal/authority"
	"ammLedger/internal/chain"
	"ammLedger/internal/config"
	"ammLedger/internal/model"
	"ammLedger/internal/storage"
)

func newPoolCmd() *cobra.Command {
	poolCmd := &cobra.Command{
		Use:   "pool",
		Short: "Create or inspect pools",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the pool of an ordered asset pair",
		RunE:  runPoolInit,
	}
	initCmd.Flags().String("token-a", "", "first asset address")
	initCmd.Flags().String("token-b", "", "second asset address")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show a pool and its reserves",
		RunE:  runPoolShow,
	}
	addPoolFlags(showCmd)

	poolCmd.AddCommand(initCmd, showCmd)
	return poolCmd
}

func addPoolFlags(cmd *cobra.Command) {
	cmd.Flags().String("pool", "", "pool address")
	cmd.Flags().String("token-a", "", "first asset address, used with --token-b instead of --pool")
	cmd.Flags().String("token-b", "", "second asset address")
}

// poolFromFlags reads --pool, or derives it from --token-a/--token-b.
func poolFromFlags(cmd *cobra.Command) (common.Address, error) {
	if raw, _ := cmd.Flags().GetString("pool"); raw != "" {
		return authority.ParseAddress(raw)
	}
	tokenA, tokenB, err := pairFromFlags(cmd)
	if err != nil {
		return common.Address{}, fmt.Errorf("pool or token pair is required: %w", err)
	}
	return authority.DerivePool(tokenA, tokenB).Pool, nil
}

func pairFromFlags(cmd *cobra.Command) (common.Address, common.Address, error) {
	rawA, _ := cmd.Flags().GetString("token-a")
	rawB, _ := cmd.Flags().GetString("token-b")
	tokenA, err := authority.ParseAddress(rawA)
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("token-a: %w", err)
	}
	tokenB, err := authority.ParseAddress(rawB)
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("token-b: %w", err)
	}
	return tokenA, tokenB, nil
}

func addressFlag(cmd *cobra.Command, name string) (common.Address, error) {
	raw, _ := cmd.Flags().GetString(name)
	addr, err := authority.ParseAddress(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", name, err)
	}
	return addr, nil
}

func runPoolInit(cmd *cobra.Command, _ []string) error {
	tokenA, tokenB, err := pairFromFlags(cmd)
	if err != nil {
		return err
	}
	_, b, err := setup(cmd)
	if err != nil {
		return err
	}
	defer b.Close()

	rec, err := b.engine.Initialize(cmd.Context(), tokenA, tokenB)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), rec)
}

func runPoolShow(cmd *cobra.Command, _ []string) error {
	pool, err := poolFromFlags(cmd)
	if err != nil {
		return err
	}
	_, b, err := setup(cmd)
	if err != nil {
		return err
	}
	defer b.Close()

	info, err := b.engine.PoolInfo(cmd.Context(), pool)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), info)
}

func newDepositCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Deposit both assets and receive pool shares",
		RunE:  runDeposit,
	}
	addPoolFlags(cmd)
	cmd.Flags().String("actor", "", "depositing account owner")
	cmd.Flags().Uint64("amount-a", 0, "amount of asset A")
	cmd.Flags().Uint64("amount-b", 0, "amount of asset B")
	cmd.Flags().Uint64("min-shares", 0, "minimum shares to accept")
	return cmd
}

func runDeposit(cmd *cobra.Command, _ []string) error {
	pool, err := poolFromFlags(cmd)
	if err != nil {
		return err
	}
	actor, err := addressFlag(cmd, "actor")
	if err != nil {
		return err
	}
	amountA, _ := cmd.Flags().GetUint64("amount-a")
	amountB, _ := cmd.Flags().GetUint64("amount-b")
	minShares, _ := cmd.Flags().GetUint64("min-shares")

	_, b, err := setup(cmd)
	if err != nil {
		return err
	}
	defer b.Close()

	shares, err := b.engine.Deposit(cmd.Context(), amm.DepositRequest{
		Pool:      pool,
		Actor:     actor,
		AmountA:   amountA,
		AmountB:   amountB,
		MinShares: minShares,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]uint64{"shares": shares})
}

func newWithdrawCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Burn pool shares for the proportional reserves",
		RunE:  runWithdraw,
	}
	addPoolFlags(cmd)
	cmd.Flags().String("actor", "", "share holder")
	cmd.Flags().Uint64("shares", 0, "shares to burn")
	cmd.Flags().Uint64("min-amount-a", 0, "minimum asset A to accept")
	cmd.Flags().Uint64("min-amount-b", 0, "minimum asset B to accept")
	return cmd
}

func runWithdraw(cmd *cobra.Command, _ []string) error {
	pool, err := poolFromFlags(cmd)
	if err != nil {
		return err
	}
	actor, err := addressFlag(cmd, "actor")
	if err != nil {
		return err
	}
	shares, _ := cmd.Flags().GetUint64("shares")
	minA, _ := cmd.Flags().GetUint64("min-amount-a")
	minB, _ := cmd.Flags().GetUint64("min-amount-b")

	_, b, err := setup(cmd)
	if err != nil {
		return err
	}
	defer b.Close()

	res, err := b.engine.Withdraw(cmd.Context(), amm.WithdrawRequest{
		Pool:       pool,
		Actor:      actor,
		Shares:     shares,
		MinAmountA: minA,
		MinAmountB: minB,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func newSwapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Swap one pool asset for the other",
		RunE:  runSwap,
	}
	addPoolFlags(cmd)
	cmd.Flags().String("actor", "", "swapping account owner")
	cmd.Flags().Uint64("amount-in", 0, "input amount")
	cmd.Flags().Uint64("min-amount-out", 0, "minimum output to accept")
	cmd.Flags().String("direction", "a_to_b", "swap direction (a_to_b, b_to_a)")
	return cmd
}

func runSwap(cmd *cobra.Command, _ []string) error {
	pool, err := poolFromFlags(cmd)
	if err != nil {
		return err
	}
	actor, err := addressFlag(cmd, "actor")
	if err != nil {
		return err
	}
	rawDir, _ := cmd.Flags().GetString("direction")
	dir, err := model.ParseDirection(rawDir)
	if err != nil {
		return err
	}
	amountIn, _ := cmd.Flags().GetUint64("amount-in")
	minOut, _ := cmd.Flags().GetUint64("min-amount-out")

	_, b, err := setup(cmd)
	if err != nil {
		return err
	}
	defer b.Close()

	out, err := b.engine.Swap(cmd.Context(), amm.SwapRequest{
		Pool:         pool,
		Actor:        actor,
		AmountIn:     amountIn,
		MinAmountOut: minOut,
		Direction:    dir,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]uint64{"amount_out": out})
}

func newQuoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a swap on a local pool, or on a live pair with --pair",
		RunE:  runQuote,
	}
	addPoolFlags(cmd)
	cmd.Flags().Uint64("amount-in", 0, "input amount")
	cmd.Flags().String("direction", "a_to_b", "swap direction (a_to_b, b_to_a)")
	cmd.Flags().String("rpc", "", "RPC URL for on-chain quotes")
	cmd.Flags().String("pair", "", "on-chain pair contract holding both token balances")
	cmd.Flags().String("token-in", "", "on-chain input token")
	cmd.Flags().String("token-out", "", "on-chain output token")
	return cmd
}

func runQuote(cmd *cobra.Command, _ []string) error {
	amountIn, _ := cmd.Flags().GetUint64("amount-in")
	if pair, _ := cmd.Flags().GetString("pair"); pair != "" {
		return runOnchainQuote(cmd, amountIn)
	}

	pool, err := poolFromFlags(cmd)
	if err != nil {
		return err
	}
	rawDir, _ := cmd.Flags().GetString("direction")
	dir, err := model.ParseDirection(rawDir)
	if err != nil {
		return err
	}

	cfg, b, err := setup(cmd)
	if err != nil {
		return err
	}
	defer b.Close()

	quote, err := b.engine.Quote(cmd.Context(), pool, amountIn, dir, cfg.SlippageBps)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), quote)
}

func runOnchainQuote(cmd *cobra.Command, amountIn uint64) error {
	pair, err := addressFlag(cmd, "pair")
	if err != nil {
		return err
	}
	tokenIn, err := addressFlag(cmd, "token-in")
	if err != nil {
		return err
	}
	tokenOut, err := addressFlag(cmd, "token-out")
	if err != nil {
		return err
	}

	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	quoter, closeQuoter, err := newQuoter(cmd, cfg.RPCURL, logger)
	if err != nil {
		return err
	}
	defer closeQuoter()

	quote, err := quoter.Quote(cmd.Context(), pair, tokenIn, tokenOut, amountIn, cfg.SlippageBps)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), quote)
}

func newQuoter(cmd *cobra.Command, rpcURL string, logger *zap.Logger) (*chain.ReserveQuoter, func(), error) {
	client, err := chain.NewClient(cmd.Context(), rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect rpc: %w", err)
	}
	chainID, err := client.GetChainID(cmd.Context())
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("chain id: %w", err)
	}
	logger.Info("rpc connected", zap.String("chain_id", chainID.String()))

	tokens, err := chain.NewTokenMetaCache(0)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	quoter, err := chain.NewReserveQuoter(client, tokens, logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return quoter, client.Close, nil
}

func newBalanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show the balance of an owner's associated account",
		RunE:  runBalance,
	}
	cmd.Flags().String("owner", "", "account owner")
	cmd.Flags().String("token", "", "asset address")
	return cmd
}

func runBalance(cmd *cobra.Command, _ []string) error {
	owner, err := addressFlag(cmd, "owner")
	if err != nil {
		return err
	}
	token, err := addressFlag(cmd, "token")
	if err != nil {
		return err
	}
	_, b, err := setup(cmd)
	if err != nil {
		return err
	}
	defer b.Close()

	bal, err := b.engine.Balance(cmd.Context(), owner, token)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), bal)
}

func newFaucetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "faucet",
		Short: "Credit test funds to an owner's associated account",
		RunE:  runFaucet,
	}
	cmd.Flags().String("owner", "", "account owner")
	cmd.Flags().String("token", "", "asset address")
	cmd.Flags().Uint64("amount", 0, "amount to credit")
	return cmd
}

func runFaucet(cmd *cobra.Command, _ []string) error {
	owner, err := addressFlag(cmd, "owner")
	if err != nil {
		return err
	}
	token, err := addressFlag(cmd, "token")
	if err != nil {
		return err
	}
	amount, _ := cmd.Flags().GetUint64("amount")

	_, b, err := setup(cmd)
	if err != nil {
		return err
	}
	defer b.Close()

	bal, err := b.engine.Fund(cmd.Context(), owner, token, amount)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), bal)
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the committed operations of a pool",
		RunE:  runHistory,
	}
	addPoolFlags(cmd)
	return cmd
}

// runHistory reads the postgres journal when that store is active, else the
// JSONL journal.
func runHistory(cmd *cobra.Command, _ []string) error {
	pool, err := poolFromFlags(cmd)
	if err != nil {
		return err
	}
	cfg, b, err := setup(cmd)
	if err != nil {
		return err
	}
	defer b.Close()

	var ops []model.OperationRecord
	if b.pg != nil {
		ops, err = b.pg.Operations(cmd.Context(), pool.Hex())
		if err != nil {
			return fmt.Errorf("query operations: %w", err)
		}
	} else {
		if cfg.Journal == "" {
			return fmt.Errorf("history needs a journal file or the postgres store")
		}
		all, err := storage.ReadOperations(cfg.Journal)
		if err != nil {
			return err
		}
		for _, op := range all {
			if strings.EqualFold(op.Pool, pool.Hex()) {
				ops = append(ops, op)
			}
		}
	}
	if ops == nil {
		ops = []model.OperationRecord{}
	}
	return printJSON(cmd.OutOrStdout(), ops)
}
