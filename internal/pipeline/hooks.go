package pipeline

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/Rhymond/go-money"
	"github.com/google/uuid"

	"github.com/rpattn/tabimport/internal/domain"
	"github.com/rpattn/tabimport/internal/ledger"
)

// PostCommitHook runs after each record of its entity type is created
// during commit. It executes inside the commit transaction: returning
// an error aborts the whole commit.
type PostCommitHook interface {
	AfterCreate(ctx context.Context, job domain.MigrationJob, recordID uuid.UUID, payload map[string]any) (*domain.SideEffect, error)
}

// HookRegistry maps entity types to their post-commit hook. At most
// one hook per entity type.
type HookRegistry struct {
	hooks map[string]PostCommitHook
}

// NewHookRegistry creates an empty registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{hooks: make(map[string]PostCommitHook)}
}

// Register binds a hook to an entity type, replacing any previous one.
func (r *HookRegistry) Register(entityType string, hook PostCommitHook) {
	r.hooks[entityType] = hook
}

// Lookup returns the hook for an entity type, if any.
func (r *HookRegistry) Lookup(entityType string) (PostCommitHook, bool) {
	hook, ok := r.hooks[entityType]
	return hook, ok
}

// InvoiceHook posts a balanced two-line journal voucher for every
// committed invoice: debit receivables, credit revenue, for the
// invoice total.
type InvoiceHook struct {
	ledger            ledger.Service
	receivableAccount string
	revenueAccount    string
	currencyCode      string
}

// NewInvoiceHook creates the invoice GL hook.
func NewInvoiceHook(svc ledger.Service, receivableAccount, revenueAccount, currencyCode string) *InvoiceHook {
	if currencyCode == "" {
		currencyCode = money.EUR
	}
	return &InvoiceHook{
		ledger:            svc,
		receivableAccount: receivableAccount,
		revenueAccount:    revenueAccount,
		currencyCode:      currencyCode,
	}
}

func (h *InvoiceHook) AfterCreate(ctx context.Context, job domain.MigrationJob, recordID uuid.UUID, payload map[string]any) (*domain.SideEffect, error) {
	amount, err := amountMinor(payload["total"])
	if err != nil {
		return nil, fmt.Errorf("invoice %s: %w", recordID, err)
	}

	lines := []ledger.Line{
		{Account: h.receivableAccount, Debit: money.New(amount, h.currencyCode)},
		{Account: h.revenueAccount, Credit: money.New(amount, h.currencyCode)},
	}
	reference := "invoice:" + recordID.String()

	voucherID, err := h.ledger.PostVoucher(ctx, lines, fmt.Sprintf("import job %s", job.ID), reference)
	if err != nil {
		return nil, fmt.Errorf("invoice %s: %w", recordID, err)
	}

	return &domain.SideEffect{
		Entity:    job.TargetEntity,
		TargetID:  recordID,
		Type:      "gl_voucher",
		Reference: voucherID.String(),
	}, nil
}

// amountMinor converts a payload amount to minor currency units.
// Staged values arrive as strings; records created elsewhere may carry
// numbers.
func amountMinor(value any) (int64, error) {
	switch v := value.(type) {
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("total %q is not numeric", v)
		}
		return int64(math.Round(parsed * 100)), nil
	case float64:
		return int64(math.Round(v * 100)), nil
	case int:
		return int64(v) * 100, nil
	case int64:
		return v * 100, nil
	case nil:
		return 0, fmt.Errorf("total is missing")
	default:
		return 0, fmt.Errorf("total has unsupported type %T", value)
	}
}

var _ PostCommitHook = (*InvoiceHook)(nil)
