package cmd

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashexec/config"
	"github.com/michaelpento.lv/flashexec/gas"
	"github.com/michaelpento.lv/flashexec/oracle"
	"github.com/michaelpento.lv/flashexec/scenario"
	"github.com/michaelpento.lv/flashexec/strategies"
	"github.com/michaelpento.lv/flashexec/types"
	"github.com/michaelpento.lv/flashexec/utils"
	"github.com/michaelpento.lv/flashexec/utils/metrics"
	"github.com/michaelpento.lv/flashexec/utils/monitor"
)

// baseDecimals is the precision of Aave's base currency (USD).
const baseDecimals = 8

var healthWatch bool

var healthCmd = &cobra.Command{
	Use:   "health <account>",
	Short: "Read an account's health factor and current gas prices from a live node",
	Long: `Reads getUserAccountData for an account from the configured lending pool
and samples the node's gas price against the executor's ceiling.

With --watch the account and gas price are re-sampled every
gas_sample_interval until interrupted, and metrics are served on
prometheus_endpoint when prometheus_enabled is set.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !common.IsHexAddress(args[0]) {
			return fmt.Errorf("%w: %q is not an address", types.ErrInvalidParams, args[0])
		}
		log := utils.GetLogger()
		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		metrics.Initialize(&metrics.MetricsConfig{Namespace: cfg.MetricsNamespace, LogMetrics: debug}, log)

		dialCtx, cancel := context.WithTimeout(cmd.Context(), cfg.NetworkTimeout)
		defer cancel()
		client, err := ethclient.DialContext(dialCtx, cfg.RPCEndpoint)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", cfg.RPCEndpoint, err)
		}
		defer client.Close()

		user := common.HexToAddress(args[0])
		if healthWatch {
			return watchHealth(cmd.Context(), cmd.OutOrStdout(), client, cfg, user, metrics.Registry(), log)
		}
		return checkHealth(dialCtx, cmd.OutOrStdout(), client, cfg, user, metrics.Registry(), log)
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().BoolVar(&healthWatch, "watch", false, "keep sampling until interrupted")
}

// nodeClient is the part of ethclient.Client the health check uses.
type nodeClient interface {
	bind.ContractCaller
	gas.FeeSource
	ChainID(ctx context.Context) (*big.Int, error)
}

type healthChecker struct {
	cfg       *config.Config
	user      common.Address
	source    *oracle.RPCAccountSource
	estimator *gas.Estimator
	logger    *zap.Logger
}

func newHealthChecker(ctx context.Context, client nodeClient, cfg *config.Config, user common.Address, reg prometheus.Registerer, log *zap.Logger) (*healthChecker, error) {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	if chainID.Uint64() != cfg.ChainID {
		return nil, fmt.Errorf("%w: node is on chain %s, configured for %d", types.ErrNetworkMismatch, chainID, cfg.ChainID)
	}

	source, err := oracle.NewRPCAccountSource(client, cfg.LendingPool, oracle.RPCConfig{
		RequestsPerSecond: cfg.RPCRateLimit.RequestsPerSecond,
		Burst:             cfg.RPCRateLimit.BurstSize,
		Timeout:           cfg.NetworkTimeout,
	}, log)
	if err != nil {
		return nil, err
	}
	estimator, err := gas.NewEstimator(client, cfg.Executor.MaxGasPrice,
		metrics.NewGasMetrics(reg, cfg.MetricsNamespace), log)
	if err != nil {
		return nil, err
	}
	return &healthChecker{cfg: cfg, user: user, source: source, estimator: estimator, logger: log}, nil
}

func checkHealth(ctx context.Context, w io.Writer, client nodeClient, cfg *config.Config, user common.Address, reg prometheus.Registerer, log *zap.Logger) error {
	h, err := newHealthChecker(ctx, client, cfg, user, reg, log)
	if err != nil {
		return err
	}
	data, err := h.source.GetUserAccountDataContext(ctx, user)
	if err != nil {
		return err
	}
	if err := h.estimator.Update(ctx); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "account:\t%s\n", user.Hex())
	fmt.Fprintf(tw, "collateral:\t%s USD\n", scenario.FormatUnits(data.TotalCollateralBase, baseDecimals))
	fmt.Fprintf(tw, "debt:\t%s USD\n", scenario.FormatUnits(data.TotalDebtBase, baseDecimals))
	fmt.Fprintf(tw, "available borrows:\t%s USD\n", scenario.FormatUnits(data.AvailableBorrowsBase, baseDecimals))
	fmt.Fprintf(tw, "health factor:\t%s\n", formatHealthFactor(data.HealthFactor))
	fmt.Fprintf(tw, "liquidatable:\t%t\n", data.HealthFactor.Cmp(oracle.LiquidationThreshold) < 0)
	fmt.Fprintf(tw, "gas price:\t%s gwei\n", scenario.FormatUnits(h.estimator.GasPrice(), 9))
	if err := h.estimator.CheckCeiling(); err != nil {
		fmt.Fprintf(tw, "gas ceiling:\texceeded (%s gwei)\n", scenario.FormatUnits(cfg.Executor.MaxGasPrice, 9))
	}
	for _, kind := range strategies.Kinds() {
		swaps := 1
		if kind == strategies.Refinance {
			swaps = 0
		}
		cost, err := h.estimator.EstimateGasCost(kind, swaps)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s cost:\t%s ETH\n", kind, scenario.FormatUnits(cost, 18))
	}
	return tw.Flush()
}

// watchHealth samples the account every gas sample interval until ctx is
// done, printing a line whenever the account is liquidatable or the gas
// price is above the ceiling.
func watchHealth(ctx context.Context, w io.Writer, client nodeClient, cfg *config.Config, user common.Address, reg prometheus.Registerer, log *zap.Logger) error {
	h, err := newHealthChecker(ctx, client, cfg, user, reg, log)
	if err != nil {
		return err
	}
	go h.estimator.Run(ctx, cfg.GasSampleInterval)
	go monitor.NewRuntimeMonitor(reg, cfg.MetricsNamespace, log).Run(ctx, cfg.GasSampleInterval)
	if gatherer, ok := reg.(prometheus.Gatherer); ok && cfg.PrometheusEnabled {
		go func() {
			if err := monitor.Serve(ctx, cfg.PrometheusEndpoint, gatherer, log); err != nil {
				log.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	ticker := time.NewTicker(cfg.GasSampleInterval)
	defer ticker.Stop()
	for {
		h.sample(ctx, w)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (h *healthChecker) sample(ctx context.Context, w io.Writer) {
	data, err := h.source.GetUserAccountDataContext(ctx, h.user)
	if err != nil {
		if ctx.Err() == nil {
			h.logger.Error("Failed to read account data", zap.Error(err))
		}
		return
	}
	liquidatable := data.HealthFactor.Cmp(oracle.LiquidationThreshold) < 0
	h.logger.Info("account sampled",
		zap.String("user", h.user.Hex()),
		zap.String("health_factor", formatHealthFactor(data.HealthFactor)),
		zap.Bool("liquidatable", liquidatable),
		zap.String("gas_price", h.estimator.GasPrice().String()))

	now := time.Now().UTC().Format(time.RFC3339)
	if liquidatable {
		fmt.Fprintf(w, "%s %s liquidatable at health factor %s\n", now, h.user.Hex(), formatHealthFactor(data.HealthFactor))
	}
	if gas.CheckCeiling(h.estimator.GasPrice(), h.cfg.Executor.MaxGasPrice) != nil {
		fmt.Fprintf(w, "%s gas price %s gwei above ceiling\n", now, scenario.FormatUnits(h.estimator.GasPrice(), 9))
	}
}
