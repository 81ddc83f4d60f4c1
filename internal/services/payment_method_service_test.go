package services

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/tradergate/internal/clock"
	"github.com/BradenHooton/tradergate/internal/models"
	pkglogger "github.com/BradenHooton/tradergate/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	records []pkglogger.AuditRecord
}

func (r *recordingSink) Persist(rec pkglogger.AuditRecord) {
	r.records = append(r.records, rec)
}

func newTestMethods() (*PaymentMethodService, *fakeBilling, *clock.Mock, *recordingSink) {
	billing := newFakeBilling()
	clk := clock.NewMock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	sink := &recordingSink{}
	audit := pkglogger.NewAuditLogger(discardLogger(), sink)
	return NewPaymentMethodService(billing, clk, discardLogger(), audit), billing, clk, sink
}

func TestPaymentMethods_CreateDefaultsToActive(t *testing.T) {
	svc, _, _, sink := newTestMethods()
	ctx := context.Background()

	m, err := svc.Create(ctx, "admin-1", PaymentMethodInput{
		Name:          " Telebirr ",
		AccountNumber: "0911000000",
		AccountHolder: "Trader Gate",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "Telebirr", m.Name)
	assert.True(t, m.IsActive)

	inactive := false
	_, err = svc.Create(ctx, "admin-1", PaymentMethodInput{
		Name:          "CBE",
		AccountNumber: "1000",
		AccountHolder: "Trader Gate",
		IsActive:      &inactive,
		DisplayOrder:  1,
	})
	require.NoError(t, err)

	active, err := svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, m.ID, active[0].ID)

	all, err := svc.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.Len(t, sink.records, 2)
	assert.Equal(t, pkglogger.EventPaymentMethodCreated, sink.records[0].EventType)
	assert.Equal(t, "admin-1", sink.records[0].UserID)
	assert.Equal(t, m.ID, sink.records[0].Metadata["method_id"])
}

func TestPaymentMethods_CreateRejectsBlankFields(t *testing.T) {
	svc, _, _, _ := newTestMethods()

	_, err := svc.Create(context.Background(), "admin-1", PaymentMethodInput{Name: "  ", AccountNumber: "1", AccountHolder: "x"})
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestPaymentMethods_UpdatePatchesSetFields(t *testing.T) {
	svc, _, clk, sink := newTestMethods()
	ctx := context.Background()

	m, err := svc.Create(ctx, "admin-1", PaymentMethodInput{Name: "Telebirr", AccountNumber: "0911", AccountHolder: "TG", Notes: "keep"})
	require.NoError(t, err)

	clk.Advance(time.Hour)
	inactive, order := false, 5
	updated, err := svc.Update(ctx, "admin-1", m.ID, PaymentMethodPatch{IsActive: &inactive, DisplayOrder: &order})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.Equal(t, 5, updated.DisplayOrder)
	assert.Equal(t, "keep", updated.Notes)
	assert.Equal(t, "Telebirr", updated.Name)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))

	last := sink.records[len(sink.records)-1]
	assert.Equal(t, pkglogger.EventPaymentMethodUpdated, last.EventType)
	assert.Equal(t, "false", last.Metadata["is_active"])

	blank := " "
	_, err = svc.Update(ctx, "admin-1", m.ID, PaymentMethodPatch{Name: &blank})
	assert.ErrorIs(t, err, models.ErrBadRequest)

	_, err = svc.Update(ctx, "admin-1", "not-a-uuid", PaymentMethodPatch{})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPaymentMethods_DeleteRefusesReferenced(t *testing.T) {
	svc, billing, _, sink := newTestMethods()
	ctx := context.Background()

	used, err := svc.Create(ctx, "admin-1", PaymentMethodInput{Name: "Used", AccountNumber: "1", AccountHolder: "TG"})
	require.NoError(t, err)
	spare, err := svc.Create(ctx, "admin-1", PaymentMethodInput{Name: "Spare", AccountNumber: "2", AccountHolder: "TG"})
	require.NoError(t, err)

	billing.addPayment(&models.Payment{ID: "pay-1", UserID: "user-1", MethodID: used.ID, Status: models.PaymentStatusPending})

	assert.ErrorIs(t, svc.Delete(ctx, "admin-1", used.ID), models.ErrConflict)
	require.NoError(t, svc.Delete(ctx, "admin-1", spare.ID))
	assert.ErrorIs(t, svc.Delete(ctx, "admin-1", spare.ID), models.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, "admin-1", "nope"), models.ErrNotFound)

	last := sink.records[len(sink.records)-1]
	assert.Equal(t, pkglogger.EventPaymentMethodDeleted, last.EventType)
	assert.Equal(t, spare.ID, last.Metadata["method_id"])
}
