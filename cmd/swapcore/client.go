package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swapCore/internal/chain"
	"swapCore/internal/config"
	"swapCore/internal/host"
	"swapCore/internal/logging"
	"swapCore/internal/model"
	"swapCore/internal/promise"
	"swapCore/internal/venue"
)

func clientCommands() []*cobra.Command {
	swapCmd := &cobra.Command{
		Use:   "swap",
		Short: "Hand a swap request to the core",
		RunE:  runSwap,
	}
	swapCmd.Flags().String("core", "", "core account")
	swapCmd.Flags().String("token", "", "input asset account")
	swapCmd.Flags().String("amount", "", "input amount")
	swapCmd.Flags().String("msg", "", "swap request JSON, or @path to read it from a file")
	swapCmd.Flags().Bool("direct", false, "transfer first and call swap instead of ft_transfer_call")

	callCmd := &cobra.Command{
		Use:   "call",
		Short: "Submit a function call and wait for its outcome",
		RunE:  runCall,
	}
	callCmd.Flags().String("receiver", "", "receiver account")
	callCmd.Flags().String("method", "", "method name")
	callCmd.Flags().String("args", "{}", "JSON arguments")
	callCmd.Flags().String("deposit", "0", "attached native deposit")

	balanceCmd := &cobra.Command{
		Use:   "balance",
		Short: "Show a token or native balance",
		RunE:  runBalance,
	}
	balanceCmd.Flags().String("account", "", "account to inspect")
	balanceCmd.Flags().String("token", "", "token account, native balance when empty")

	historyCmd := &cobra.Command{
		Use:   "history <saga-id>",
		Short: "Print the journaled events of a saga",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistory,
	}

	fillCmd := &cobra.Command{
		Use:   "script-fill",
		Short: "Queue the next fill of a scripted venue",
		RunE:  runScriptFill,
	}
	fillCmd.Flags().String("used", "", "input amount the venue consumes")
	fillCmd.Flags().String("token-out", "", "output asset account")
	fillCmd.Flags().String("amount-out", "", "output amount")

	cmds := []*cobra.Command{swapCmd, callCmd, balanceCmd, historyCmd, fillCmd}
	for _, cmd := range cmds {
		cmd.Flags().String("rpc", "", "swapcore RPC URL")
		cmd.Flags().String("signer", "", "signing account")
		cmd.Flags().Uint64("gas", 300, "prepaid gas in Tgas")
		cmd.Flags().Duration("timeout", 30*time.Second, "overall request timeout")
		addLogFlags(cmd, "warn")
	}
	return cmds
}

type session struct {
	cfg    config.ClientConfig
	client *chain.Client
	logger *zap.Logger
}

func openSession(cmd *cobra.Command) (*session, context.Context, func(), error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadClient(cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
	client, err := chain.NewClient(ctx, cfg.RPCURL, chain.WithRetry(cfg.MaxRetries, cfg.RetryBackoff))
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("connect rpc: %w", err)
	}
	closeFn := func() {
		client.Close()
		cancel()
		_ = logger.Sync()
	}
	return &session{cfg: cfg, client: client, logger: logger}, ctx, closeFn, nil
}

func (s *session) call(ctx context.Context, receiver model.AccountID, method string, args any, deposit model.Amount) (host.TxOutcome, error) {
	if s.cfg.Signer == "" {
		return host.TxOutcome{}, fmt.Errorf("signer is required")
	}
	raw, ok := args.(json.RawMessage)
	if !ok {
		var err error
		if raw, err = json.Marshal(args); err != nil {
			return host.TxOutcome{}, err
		}
	}
	tx := host.Transaction{
		Signer:   model.AccountID(s.cfg.Signer),
		Receiver: receiver,
		Method:   method,
		Args:     raw,
		Gas:      promise.Gas(s.cfg.GasTera) * promise.TGas,
		Deposit:  deposit,
	}
	s.logger.Debug("submit", zap.String("receiver", receiver.String()), zap.String("method", method))
	return s.client.Call(ctx, tx)
}

func runSwap(cmd *cobra.Command, _ []string) error {
	s, ctx, closeFn, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	core, _ := cmd.Flags().GetString("core")
	token, _ := cmd.Flags().GetString("token")
	amountFlag, _ := cmd.Flags().GetString("amount")
	msgFlag, _ := cmd.Flags().GetString("msg")
	direct, _ := cmd.Flags().GetBool("direct")
	if core == "" || token == "" {
		return fmt.Errorf("core and token are required")
	}
	amount, err := model.ParseAmount(amountFlag)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	msg, err := readMsg(msgFlag)
	if err != nil {
		return err
	}
	if _, err := model.DecodeSwapRequest(msg); err != nil {
		return err
	}

	if !direct {
		out, err := s.call(ctx, model.AccountID(token), "ft_transfer_call", map[string]any{
			"receiver_id": core,
			"amount":      amount,
			"msg":         string(msg),
		}, model.NewAmount(1))
		if err != nil {
			return err
		}
		return printJSON(out)
	}

	out, err := s.call(ctx, model.AccountID(token), "ft_transfer", map[string]any{
		"receiver_id": core,
		"amount":      amount,
	}, model.NewAmount(1))
	if err != nil {
		return err
	}
	if !out.Succeeded() {
		return fmt.Errorf("transfer to core failed: %v", out.Failures)
	}
	out, err = s.call(ctx, model.AccountID(core), "swap", map[string]any{
		"amount":        amount,
		"core_swap_msg": json.RawMessage(msg),
	}, model.Amount{})
	if err != nil {
		return err
	}
	return printJSON(out)
}

func runCall(cmd *cobra.Command, _ []string) error {
	s, ctx, closeFn, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	receiver, _ := cmd.Flags().GetString("receiver")
	method, _ := cmd.Flags().GetString("method")
	args, _ := cmd.Flags().GetString("args")
	depositFlag, _ := cmd.Flags().GetString("deposit")
	if receiver == "" || method == "" {
		return fmt.Errorf("receiver and method are required")
	}
	if !json.Valid([]byte(args)) {
		return fmt.Errorf("args is not valid JSON")
	}
	deposit, err := model.ParseAmount(depositFlag)
	if err != nil {
		return fmt.Errorf("deposit: %w", err)
	}

	out, err := s.call(ctx, model.AccountID(receiver), method, json.RawMessage(args), deposit)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func runBalance(cmd *cobra.Command, _ []string) error {
	s, ctx, closeFn, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	account, _ := cmd.Flags().GetString("account")
	token, _ := cmd.Flags().GetString("token")
	if account == "" {
		return fmt.Errorf("account is required")
	}

	var amount model.Amount
	if token == "" {
		amount, err = s.client.NativeBalance(ctx, model.AccountID(account))
	} else {
		amount, err = s.client.Balance(ctx, model.AccountID(token), model.AccountID(account))
	}
	if err != nil {
		return err
	}
	fmt.Println(amount.String())
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	s, ctx, closeFn, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	events, err := s.client.History(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(events)
}

func runScriptFill(cmd *cobra.Command, _ []string) error {
	s, ctx, closeFn, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	usedFlag, _ := cmd.Flags().GetString("used")
	tokenOut, _ := cmd.Flags().GetString("token-out")
	amountOutFlag, _ := cmd.Flags().GetString("amount-out")
	used, err := model.ParseAmount(usedFlag)
	if err != nil {
		return fmt.Errorf("used: %w", err)
	}
	amountOut, err := model.ParseAmount(amountOutFlag)
	if err != nil {
		return fmt.Errorf("amount-out: %w", err)
	}
	return s.client.ScriptFill(ctx, venue.Fill{
		Used:      used,
		TokenOut:  model.AccountID(tokenOut),
		AmountOut: amountOut,
	})
}

func readMsg(flag string) ([]byte, error) {
	if flag == "" {
		return nil, fmt.Errorf("msg is required")
	}
	if flag[0] != '@' {
		return []byte(flag), nil
	}
	raw, err := os.ReadFile(flag[1:])
	if err != nil {
		return nil, fmt.Errorf("read msg: %w", err)
	}
	return raw, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
