package manual

import (
	"context"
	"fmt"
	"strings"

	"nikarya-store/internal/models"
)

// Name is the gateway_name recorded on manually reconciled orders
const Name = "manual"

// Store reads administrator-defined transfer destinations
type Store interface {
	GetActiveManualMethods(ctx context.Context) ([]models.ManualPaymentMethod, error)
}

// Resolver looks up the active manual methods
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the active methods in display order, never nil
func (r *Resolver) Resolve(ctx context.Context) ([]models.ManualPaymentMethod, error) {
	methods, err := r.store.GetActiveManualMethods(ctx)
	if err != nil {
		return nil, fmt.Errorf("load manual payment methods: %w", err)
	}
	if methods == nil {
		methods = []models.ManualPaymentMethod{}
	}
	return methods, nil
}

// Instructions renders transfer instructions for an amount, one destination per line
func Instructions(methods []models.ManualPaymentMethod, orderRef string, amount int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Transfer Rp %s with reference %s to one of:\n", FormatRupiah(amount), orderRef)
	for _, m := range methods {
		fmt.Fprintf(&b, "- %s %s a.n. %s", m.ProviderName, m.AccountNumber, m.AccountName)
		if m.Instructions != "" {
			fmt.Fprintf(&b, " (%s)", m.Instructions)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatRupiah groups thousands with dots: 1500000 -> 1.500.000
func FormatRupiah(amount int64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	s := fmt.Sprintf("%d", amount)
	var out []byte
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, '.')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
