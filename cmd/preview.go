package cmd

import (
	"fmt"
	"math/big"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/flashexec/flashloan"
	"github.com/michaelpento.lv/flashexec/oracle"
	"github.com/michaelpento.lv/flashexec/scenario"
	"github.com/michaelpento.lv/flashexec/utils"
	bmath "github.com/michaelpento.lv/flashexec/utils/math"
)

var (
	previewScenario string
	previewPrices   map[string]string
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Quote fees, profits and savings against a deployed scenario",
	Long: `Deploys a scenario (without running its requests) and answers read-only
questions about it. Amounts are whole tokens; assets are symbols or addresses.`,
}

var previewFeeCmd = &cobra.Command{
	Use:   "fee <asset> <amount>",
	Short: "Flash loan premium the pool charges for a loan",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := deployPreview()
		if err != nil {
			return err
		}
		asset, amount, err := d.Amount(args[0], args[1])
		if err != nil {
			return err
		}
		premium, err := d.Executor.PreviewFlashLoanFee(asset, amount)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "premium: %s\n", d.Format(asset, premium))
		return nil
	},
}

var previewProfitabilityCmd = &cobra.Command{
	Use:   "profitability <asset> <amount> <estimated-profit>",
	Short: "Break an estimated gross profit down into premium, service fee and net profit",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := deployPreview()
		if err != nil {
			return err
		}
		asset, amount, err := d.Amount(args[0], args[1])
		if err != nil {
			return err
		}
		_, estimate, err := d.Amount(args[0], args[2])
		if err != nil {
			return err
		}
		p, err := d.Executor.PreviewProfitability(asset, amount, estimate)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "premium:\t%s\n", d.Format(asset, p.Premium))
		fmt.Fprintf(tw, "service fee:\t%s\n", d.Format(asset, p.ServiceFee))
		fmt.Fprintf(tw, "net profit:\t%s\n", d.Format(asset, p.NetProfit))
		fmt.Fprintf(tw, "profitable:\t%t\n", p.Profitable)
		return tw.Flush()
	},
}

var previewLiquidationCmd = &cobra.Command{
	Use:   "liquidation <collateral> <debt> <debt-to-cover>",
	Short: "Collateral seized and bonus earned by covering an amount of debt",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := deployPreview()
		if err != nil {
			return err
		}
		collateral, err := d.Address(args[0])
		if err != nil {
			return err
		}
		debt, debtToCover, err := d.Amount(args[1], args[2])
		if err != nil {
			return err
		}
		q, err := d.Executor.PreviewLiquidationBonus(collateral, debt, debtToCover)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "bonus:\t%s%%\n", scenario.FormatUnits(big.NewInt(int64(q.BonusBps)-bmath.BasisPoints), 2))
		fmt.Fprintf(tw, "collateral seized:\t%s\n", d.Format(collateral, q.CollateralAmount))
		fmt.Fprintf(tw, "bonus collateral:\t%s\n", d.Format(collateral, q.Bonus))
		fmt.Fprintf(tw, "bonus value:\t%s\n", d.Format(debt, q.BonusInDebtAsset))
		return tw.Flush()
	},
}

var previewSavingsCmd = &cobra.Command{
	Use:   "savings <asset> <amount> <from-mode> <to-mode>",
	Short: "Yearly interest saved by moving debt between stable and variable rates",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := deployPreview()
		if err != nil {
			return err
		}
		asset, amount, err := d.Amount(args[0], args[1])
		if err != nil {
			return err
		}
		from, err := flashloan.ParseRateMode(args[2])
		if err != nil {
			return err
		}
		to, err := flashloan.ParseRateMode(args[3])
		if err != nil {
			return err
		}
		savings, err := d.Executor.PreviewRefinanceSavings(asset, amount, from, to)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "yearly savings: %s\n", d.Format(asset, savings))
		return nil
	},
}

var previewHealthCmd = &cobra.Command{
	Use:   "health <account>",
	Short: "Health factor of an account in the scenario's pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := deployPreview()
		if err != nil {
			return err
		}
		user, err := d.Address(args[0])
		if err != nil {
			return err
		}
		liquidatable, hf, err := oracle.FromPool(d.Pool).IsLiquidatable(user)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "health factor: %s\nliquidatable: %t\n", formatHealthFactor(hf), liquidatable)
		return nil
	},
}

var previewNetworkCmd = &cobra.Command{
	Use:   "network",
	Short: "Executor deployment and network configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := deployPreview()
		if err != nil {
			return err
		}
		nc := d.Executor.NetworkConfig()
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "chain id:\t%d\n", nc.ChainID)
		fmt.Fprintf(tw, "executor:\t%s\n", nc.Executor.Hex())
		fmt.Fprintf(tw, "pool:\t%s\n", nc.Pool.Hex())
		fmt.Fprintf(tw, "treasury:\t%s\n", nc.Treasury.Hex())
		fmt.Fprintf(tw, "fee:\t%d bps\n", nc.FeeBps)
		fmt.Fprintf(tw, "pool premium:\t%d bps\n", nc.PremiumBps)
		fmt.Fprintf(tw, "max gas price:\t%s gwei\n", scenario.FormatUnits(nc.MaxGasPrice, 9))
		fmt.Fprintf(tw, "default router:\t%s\n", nc.DefaultRouter.Hex())
		for _, r := range nc.Routers {
			fmt.Fprintf(tw, "router:\t%s\n", r.Hex())
		}
		fmt.Fprintf(tw, "paused:\t%t\n", nc.Paused)
		fmt.Fprintf(tw, "upgradeable:\t%t\n", nc.Upgradeable)
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(previewCmd)
	previewCmd.PersistentFlags().StringVar(&previewScenario, "scenario", "", "scenario file to deploy")
	previewCmd.PersistentFlags().StringToStringVar(&previewPrices, "price", nil, "override token prices, e.g. --price WETH=1800")
	_ = previewCmd.MarkPersistentFlagRequired("scenario")

	previewCmd.AddCommand(
		previewFeeCmd,
		previewProfitabilityCmd,
		previewLiquidationCmd,
		previewSavingsCmd,
		previewHealthCmd,
		previewNetworkCmd,
	)
}

func deployPreview() (*scenario.Deployment, error) {
	s, err := scenario.Load(previewScenario)
	if err != nil {
		return nil, err
	}
	d, err := scenario.Deploy(s, nil, utils.GetLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to deploy scenario: %w", err)
	}
	for token, price := range previewPrices {
		if err := d.SetPrice(token, price); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// formatHealthFactor renders a WAD health factor, or "max" for an account
// without debt.
func formatHealthFactor(hf *big.Int) string {
	if hf == nil || hf.Cmp(bmath.MaxUint256) == 0 {
		return "max"
	}
	return scenario.FormatUnits(hf, 18)
}
