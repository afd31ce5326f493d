package index

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/docrelay/internal/errs"
)

func TestMemoryDocuments_PageOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryDocuments()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		owner := ""
		if i%2 == 0 {
			owner = "c1"
		}
		_, err := m.InsertIfAbsent(ctx, &Document{
			OwnerID:    owner,
			Category:   "invoice",
			StorageKey: fmt.Sprintf("invoice/%d.pdf", i),
			CreatedAt:  base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}
	_, err := m.InsertIfAbsent(ctx, &Document{Category: "tax", StorageKey: "tax/x.pdf"})
	require.NoError(t, err)

	all, err := m.Page(ctx, Filter{Category: "invoice"}, 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "invoice/4.pdf", all[0].StorageKey)

	owned, err := m.Page(ctx, Filter{Category: "invoice", OwnerID: "c1"}, 1, 1)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "invoice/2.pdf", owned[0].StorageKey)

	beyond, err := m.Page(ctx, Filter{Category: "invoice"}, 50, 10)
	require.NoError(t, err)
	assert.Empty(t, beyond)
}

func TestMemoryDocuments_InsertIfAbsentNeverDuplicates(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryDocuments()

	ok, err := m.InsertIfAbsent(ctx, &Document{Category: "tax", StorageKey: "tax/a.pdf", DisplayName: "first"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.InsertIfAbsent(ctx, &Document{Category: "tax", StorageKey: "tax/a.pdf", DisplayName: "second"})
	require.NoError(t, err)
	assert.False(t, ok)

	d, err := m.Get(ctx, "tax/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "first", d.DisplayName)
	assert.Equal(t, 1, m.Len())
}

func TestMemoryDocuments_UpsertKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryDocuments()

	synthetic := &Document{Category: "tax", StorageKey: "tax/a.pdf", DisplayName: "a.pdf"}
	_, err := m.InsertIfAbsent(ctx, synthetic)
	require.NoError(t, err)

	real := &Document{Category: "tax", StorageKey: "tax/a.pdf", DisplayName: "nota fiscal.pdf"}
	require.NoError(t, m.Upsert(ctx, real))
	assert.Equal(t, synthetic.ID, real.ID)

	d, err := m.Get(ctx, "tax/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "nota fiscal.pdf", d.DisplayName)
}

func TestMemoryDocuments_Faults(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryDocuments()

	m.FailWrites(1, assert.AnError)
	err := m.Upsert(ctx, &Document{StorageKey: "k"})
	assert.True(t, errs.IsIndexWriteFailed(err))
	require.NoError(t, m.Upsert(ctx, &Document{StorageKey: "k"}))

	m.FailDeletes(1, assert.AnError)
	_, err = m.DeleteByKey(ctx, "k")
	assert.True(t, errs.IsIndexWriteFailed(err))

	removed, err := m.DeleteByKey(ctx, "k")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestMemoryClients(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryClients()

	require.NoError(t, m.Create(ctx, &Client{Name: "Zeta", WhatsApp: "11 9999"}))
	a := &Client{Name: "Alpha", Email: "a@x"}
	require.NoError(t, m.Create(ctx, a))

	got, err := m.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", got.Name)

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Alpha", list[0].Name)

	_, err = m.Get(ctx, "nope")
	assert.True(t, errs.IsNotFound(err))
}
