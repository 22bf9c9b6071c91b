package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nikarya-store/internal/callback"
	"nikarya-store/internal/database"
	"nikarya-store/internal/models"
)

func TestRunOnce_ExpiresOnlyOverdueUnpaidGroups(t *testing.T) {
	db, err := database.InitDB(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	p := models.Product{Name: "ebook", Price: 10000, IsActive: true}
	require.NoError(t, db.CreateProduct(ctx, &p))

	now := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	longAgo := now.Add(-3 * time.Hour)
	recent := now.Add(-10 * time.Minute)
	wib := time.FixedZone("WIB", 7*60*60)
	longAgoWIB := longAgo.In(wib)

	row := func(ref string, status models.PaymentStatus, deadline *time.Time) models.Order {
		return models.Order{OrderRef: ref, ProductID: p.ID, Quantity: 1, UnitPrice: 10000, TotalPrice: 10000,
			PaymentStatus: status, GatewayName: "duitku", PaymentDeadline: deadline}
	}
	require.NoError(t, db.CreateOrders(ctx, []models.Order{
		row("ORD-OLD", models.PaymentPending, &longAgo),
		row("ORD-OLD", models.PaymentPending, &longAgo),
		row("ORD-WIB", models.PaymentPending, &longAgoWIB),
		row("ORD-GRACE", models.PaymentPending, &recent),
		row("ORD-PAID", models.PaymentPaid, &longAgo),
		row("ORD-NODEADLINE", models.PaymentPendingManual, nil),
	}))

	log, _ := test.NewNullLogger()
	s := New(db, callback.NewProcessor(db, nil, log), time.Minute, time.Hour, log)
	s.now = func() time.Time { return now }

	n, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for ref, want := range map[string]models.PaymentStatus{
		"ORD-OLD":        models.PaymentExpired,
		"ORD-WIB":        models.PaymentExpired,
		"ORD-GRACE":      models.PaymentPending,
		"ORD-PAID":       models.PaymentPaid,
		"ORD-NODEADLINE": models.PaymentPendingManual,
	} {
		orders, err := db.GetOrdersByRef(ctx, ref)
		require.NoError(t, err)
		for _, o := range orders {
			assert.Equal(t, want, o.PaymentStatus, ref)
		}
	}

	n, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStart_DisabledWithZeroInterval(t *testing.T) {
	log, hook := test.NewNullLogger()
	New(nil, nil, 0, time.Hour, log).Start(context.Background())
	assert.Contains(t, hook.LastEntry().Message, "disabled")
}
