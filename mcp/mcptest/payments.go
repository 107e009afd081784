package mcptest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

// SetAPIKeyArgs are the setApiKey arguments
type SetAPIKeyArgs struct {
	Key string `json:"key" jsonschema:"description=API key of the payments service,minLength=1"`
}

// SendMoneyArgs are the sendMoney arguments
type SendMoneyArgs struct {
	Amount float64 `json:"amount" jsonschema:"description=Amount to send in USD,exclusiveMinimum=0"`
	Payee  string  `json:"payee" jsonschema:"description=Name of the payee,minLength=1"`
	Memo   string  `json:"memo,omitempty" jsonschema:"description=Optional memo"`
}

// SearchPayeesArgs are the searchPayees arguments
type SearchPayeesArgs struct {
	Query string `json:"query" jsonschema:"description=Name or part of the name to search for"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum number of payees,minimum=1,maximum=20"`
}

// GetBalanceArgs are the getBalance arguments
type GetBalanceArgs struct{}

// Transfer is a completed sendMoney call
type Transfer struct {
	ID     string  `json:"transferId"`
	Amount float64 `json:"amount"`
	Payee  string  `json:"payee"`
	Memo   string  `json:"memo,omitempty"`
}

// Payee is a searchPayees result
type Payee struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Payments is the state of the payments preset
type Payments struct {
	lock      sync.Mutex
	apiKey    string
	balance   float64
	transfers []Transfer
	faker     *gofakeit.Faker
}

// InitialBalance is the balance of a new payments account
const InitialBalance = 100.0

// NewPayments returns a stub server exposing setApiKey, sendMoney,
// searchPayees and getBalance. Money can be sent only after setApiKey.
func NewPayments(opts ...Option) (*Server, *Payments) {
	p := &Payments{
		balance: InitialBalance,
		faker:   gofakeit.New(42),
	}

	srv := NewServer("payments", opts...)
	srv.AddTool(
		NewTool("setApiKey", "Set the API key used to authorize payments", p.setAPIKey),
		NewTool("sendMoney", "Send money to a payee, requires an API key", p.sendMoney),
		NewTool("searchPayees", "Search known payees by name", p.searchPayees),
		NewTool("getBalance", "Return the account balance in USD", p.getBalance),
	)
	return srv, p
}

// SendCount returns the number of completed transfers
func (p *Payments) SendCount() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.transfers)
}

// Transfers returns the completed transfers
func (p *Payments) Transfers() []Transfer {
	p.lock.Lock()
	defer p.lock.Unlock()
	return append([]Transfer(nil), p.transfers...)
}

// Balance returns the account balance
func (p *Payments) Balance() float64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.balance
}

func (p *Payments) setAPIKey(_ context.Context, args *SetAPIKeyArgs) (*Result, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.apiKey = args.Key
	return TextResult("API key set"), nil
}

func (p *Payments) sendMoney(_ context.Context, args *SendMoneyArgs) (*Result, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.apiKey == "" {
		return ErrorResult("API key is not set, call setApiKey first"), nil
	}
	if args.Amount > p.balance {
		return ErrorResult(fmt.Sprintf("insufficient funds: balance is $%.2f", p.balance)), nil
	}

	t := Transfer{
		ID:     uuid.NewString(),
		Amount: args.Amount,
		Payee:  args.Payee,
		Memo:   args.Memo,
	}
	p.balance -= args.Amount
	p.transfers = append(p.transfers, t)

	res := TextResult(fmt.Sprintf("Sent $%.2f to %s", args.Amount, args.Payee))
	res.StructuredContent = t
	return res, nil
}

func (p *Payments) searchPayees(_ context.Context, args *SearchPayeesArgs) (*Result, error) {
	limit := args.Limit
	if limit <= 0 {
		limit = 3
	}

	p.lock.Lock()
	payees := make([]Payee, 0, limit)
	for len(payees) < limit {
		name := p.faker.Name()
		if len(payees) == 0 && args.Query != "" {
			name = args.Query
		}
		payees = append(payees, Payee{
			Name:  name,
			Email: strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@" + p.faker.DomainName(),
		})
	}
	p.lock.Unlock()

	names := make([]string, len(payees))
	for i, payee := range payees {
		names[i] = payee.Name
	}
	res := TextResult(strings.Join(names, "\n"))
	res.StructuredContent = map[string]any{"payees": payees}
	return res, nil
}

func (p *Payments) getBalance(_ context.Context, _ *GetBalanceArgs) (*Result, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	res := TextResult(fmt.Sprintf("Balance: $%.2f", p.balance))
	res.StructuredContent = map[string]any{"balance": p.balance}
	return res, nil
}
