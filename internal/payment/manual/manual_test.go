package manual

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nikarya-store/internal/models"
)

type fakeStore struct {
	methods []models.ManualPaymentMethod
	err     error
}

func (f fakeStore) GetActiveManualMethods(ctx context.Context) ([]models.ManualPaymentMethod, error) {
	return f.methods, f.err
}

func TestResolve_NeverNil(t *testing.T) {
	methods, err := NewResolver(fakeStore{}).Resolve(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, methods)
	assert.Empty(t, methods)
}

func TestResolve_Error(t *testing.T) {
	_, err := NewResolver(fakeStore{err: errors.New("db down")}).Resolve(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestInstructions(t *testing.T) {
	out := Instructions([]models.ManualPaymentMethod{
		{ProviderName: "BCA", AccountNumber: "1234567890", AccountName: "Nikarya"},
		{ProviderName: "DANA", AccountNumber: "0812", AccountName: "Nikarya", Instructions: "include the reference"},
	}, "ORD-1", 150000)

	assert.Contains(t, out, "Rp 150.000")
	assert.Contains(t, out, "- BCA 1234567890 a.n. Nikarya\n")
	assert.Contains(t, out, "(include the reference)")
}

func TestFormatRupiah(t *testing.T) {
	assert.Equal(t, "0", FormatRupiah(0))
	assert.Equal(t, "999", FormatRupiah(999))
	assert.Equal(t, "1.000", FormatRupiah(1000))
	assert.Equal(t, "1.500.000", FormatRupiah(1500000))
	assert.Equal(t, "-25.000", FormatRupiah(-25000))
}
