package reports

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/ledger"
)

// StatementAccount summarises one account inside a statement section.
type StatementAccount struct {
	Code   string          `json:"code"`
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// StatementSection groups accounts by nature.
type StatementSection struct {
	Label    string             `json:"label"`
	Accounts []StatementAccount `json:"accounts"`
	Total    decimal.Decimal    `json:"total"`
}

func (s *StatementSection) add(row StatementAccount) {
	s.Accounts = append(s.Accounts, row)
	s.Total = s.Total.Add(row.Amount)
}

func (s *StatementSection) sort() {
	sort.Slice(s.Accounts, func(i, j int) bool { return s.Accounts[i].Code < s.Accounts[j].Code })
}

// ProfitAndLoss contains the structured output for the report.
type ProfitAndLoss struct {
	Revenue   StatementSection `json:"revenue"`
	Expense   StatementSection `json:"expense"`
	NetIncome decimal.Decimal  `json:"net_income"`
}

// BuildProfitAndLoss aggregates period movements into revenue and expense sections.
func BuildProfitAndLoss(accounts []AccountBalance) ProfitAndLoss {
	revenue := StatementSection{Label: "Revenue"}
	expense := StatementSection{Label: "Expense"}

	for _, acc := range accounts {
		amount := acc.Debit.Sub(acc.Credit)
		switch acc.Type {
		case ledger.AccountTypeIncome:
			revenue.add(StatementAccount{Code: acc.Code, Name: acc.Name, Amount: amount.Neg()})
		case ledger.AccountTypeExpense:
			expense.add(StatementAccount{Code: acc.Code, Name: acc.Name, Amount: amount})
		}
	}
	revenue.sort()
	expense.sort()

	return ProfitAndLoss{
		Revenue:   revenue,
		Expense:   expense,
		NetIncome: revenue.Total.Sub(expense.Total),
	}
}

// BalanceSheet is the structured response for the balance sheet report.
type BalanceSheet struct {
	Assets                    StatementSection `json:"assets"`
	Liabilities               StatementSection `json:"liabilities"`
	Equity                    StatementSection `json:"equity"`
	TotalLiabilitiesAndEquity decimal.Decimal  `json:"total_liabilities_and_equity"`
}

// BuildBalanceSheet aggregates closing balances into assets, liabilities and
// equity. Credit-natured sections are reported positive.
func BuildBalanceSheet(accounts []AccountBalance) BalanceSheet {
	assets := StatementSection{Label: "Assets"}
	liabilities := StatementSection{Label: "Liabilities"}
	equity := StatementSection{Label: "Equity"}

	for _, acc := range accounts {
		balance := acc.Closing()
		switch acc.Type {
		case ledger.AccountTypeAsset:
			assets.add(StatementAccount{Code: acc.Code, Name: acc.Name, Amount: balance})
		case ledger.AccountTypeLiability:
			liabilities.add(StatementAccount{Code: acc.Code, Name: acc.Name, Amount: balance.Neg()})
		case ledger.AccountTypeEquity:
			equity.add(StatementAccount{Code: acc.Code, Name: acc.Name, Amount: balance.Neg()})
		}
	}
	assets.sort()
	liabilities.sort()
	equity.sort()

	return BalanceSheet{
		Assets:                    assets,
		Liabilities:               liabilities,
		Equity:                    equity,
		TotalLiabilitiesAndEquity: liabilities.Total.Add(equity.Total),
	}
}
