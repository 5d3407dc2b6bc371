package billing

import "time"

// Billing is tenant-scoped; a tenant is billed per calendar month (UTC).
// Amounts are USD.

type Usage struct {
	Calls           int     `json:"calls"`
	RetellMinutes   float64 `json:"retell_minutes"`
	BillableMinutes int     `json:"billable_minutes"`
	RetellCostUSD   float64 `json:"retell_cost_usd"`
}

type Costs struct {
	DashboardFee      float64 `json:"dashboard_fee"`
	RetellPassthrough float64 `json:"retell_passthrough"`
	TotalProjected    float64 `json:"total_projected"`
}

// Cycle is the in-progress billing period.
type Cycle struct {
	CycleNumber   int    `json:"cycle_number"`
	PeriodStart   string `json:"period_start"`
	PeriodEnd     string `json:"period_end"`
	DaysRemaining int    `json:"days_remaining"`
	Usage         Usage  `json:"usage"`
	Costs         Costs  `json:"costs"`
	InvoiceDate   string `json:"invoice_date"`
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
	PaymentOverdue PaymentStatus = "overdue"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentOverdue:
		return true
	}
	return false
}

// Invoice is a closed billing period.
type Invoice struct {
	ID          string `json:"id" db:"id"`
	TenantID    string `json:"user_id" db:"tenant_id"`
	CycleNumber int    `json:"cycle_number" db:"cycle_number"`
	PeriodStart string `json:"period_start" db:"period_start"`
	PeriodEnd   string `json:"period_end" db:"period_end"`

	TotalAmount    float64 `json:"total_amount" db:"total_amount"`
	DashboardFee   float64 `json:"dashboard_fee" db:"dashboard_fee"`
	RetellCost     float64 `json:"retell_cost" db:"retell_cost"`
	OpenRouterCost float64 `json:"openrouter_cost" db:"openrouter_cost"`

	PaymentStatus PaymentStatus `json:"payment_status" db:"payment_status"`
	PaidAt        *time.Time    `json:"paid_at,omitempty" db:"paid_at"`
	PaymentLink   string        `json:"payment_link,omitempty" db:"payment_link"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
