package calc

import (
	"github.com/shopspring/decimal"

	"github.com/idis-platform/idis/pkg/idiserr"
)

// Builtin calc types.
const (
	CalcRunway              = "RUNWAY"
	CalcGrossMargin         = "GROSS_MARGIN"
	CalcBurnMultiple        = "BURN_MULTIPLE"
	CalcNetRevenueRetention = "NET_REVENUE_RETENTION"
	CalcARRGrowth           = "ARR_GROWTH"
)

const builtinCodeVersion = "v1.0.0"

func requirePositive(name string, v decimal.Decimal) error {
	if v.Sign() <= 0 {
		return idiserr.New(idiserr.KindInvalidInput, name+" must be positive").WithPath(name)
	}
	return nil
}

var builtinFormulas = []Formula{
	{
		CalcType:    CalcRunway,
		Inputs:      []string{"cash_balance", "monthly_net_burn"},
		Scale:       1,
		SourceText:  "RUNWAY(cash_balance, monthly_net_burn) = cash_balance / monthly_net_burn",
		CodeVersion: builtinCodeVersion,
		Fn: func(in map[string]decimal.Decimal) (decimal.Decimal, error) {
			if err := requirePositive("monthly_net_burn", in["monthly_net_burn"]); err != nil {
				return decimal.Zero, err
			}
			return in["cash_balance"].Div(in["monthly_net_burn"]), nil
		},
	},
	{
		CalcType:    CalcGrossMargin,
		Inputs:      []string{"revenue", "cogs"},
		Scale:       4,
		SourceText:  "GROSS_MARGIN(revenue, cogs) = (revenue - cogs) / revenue",
		CodeVersion: builtinCodeVersion,
		Fn: func(in map[string]decimal.Decimal) (decimal.Decimal, error) {
			if err := requirePositive("revenue", in["revenue"]); err != nil {
				return decimal.Zero, err
			}
			return in["revenue"].Sub(in["cogs"]).Div(in["revenue"]), nil
		},
	},
	{
		CalcType:    CalcBurnMultiple,
		Inputs:      []string{"net_burn", "net_new_arr"},
		Scale:       2,
		SourceText:  "BURN_MULTIPLE(net_burn, net_new_arr) = net_burn / net_new_arr",
		CodeVersion: builtinCodeVersion,
		Fn: func(in map[string]decimal.Decimal) (decimal.Decimal, error) {
			if err := requirePositive("net_new_arr", in["net_new_arr"]); err != nil {
				return decimal.Zero, err
			}
			return in["net_burn"].Div(in["net_new_arr"]), nil
		},
	},
	{
		CalcType:    CalcNetRevenueRetention,
		Inputs:      []string{"starting_arr", "expansion", "contraction", "churn"},
		Scale:       4,
		SourceText:  "NET_REVENUE_RETENTION(starting_arr, expansion, contraction, churn) = (starting_arr + expansion - contraction - churn) / starting_arr",
		CodeVersion: builtinCodeVersion,
		Fn: func(in map[string]decimal.Decimal) (decimal.Decimal, error) {
			if err := requirePositive("starting_arr", in["starting_arr"]); err != nil {
				return decimal.Zero, err
			}
			retained := in["starting_arr"].Add(in["expansion"]).Sub(in["contraction"]).Sub(in["churn"])
			return retained.Div(in["starting_arr"]), nil
		},
	},
	{
		CalcType:    CalcARRGrowth,
		Inputs:      []string{"arr_current", "arr_prior"},
		Scale:       4,
		SourceText:  "ARR_GROWTH(arr_current, arr_prior) = (arr_current - arr_prior) / arr_prior",
		CodeVersion: builtinCodeVersion,
		Fn: func(in map[string]decimal.Decimal) (decimal.Decimal, error) {
			if err := requirePositive("arr_prior", in["arr_prior"]); err != nil {
				return decimal.Zero, err
			}
			return in["arr_current"].Sub(in["arr_prior"]).Div(in["arr_prior"]), nil
		},
	},
}

// Builtins returns a registry preloaded with the standard diligence
// formulas. Each call returns a fresh registry so tests can extend it.
func Builtins() *Registry {
	r := NewRegistry()
	for _, f := range builtinFormulas {
		if err := r.Register(f); err != nil {
			panic("calc: builtin registration: " + err.Error())
		}
	}
	return r
}
