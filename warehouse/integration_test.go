//go:build integration

package warehouse

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	"zh.xyz/dv/hubsync/fieldmap"
)

func startMySQL(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcmysql.Run(ctx, "mysql:8.0.36",
		tcmysql.WithDatabase("hubspot"),
		tcmysql.WithUsername("root"),
		tcmysql.WithPassword("password"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "parseTime=true", "loc=UTC")
	require.NoError(t, err)
	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewStore(db, nil)
	require.NoError(t, store.EnsureTables(ctx))
	return store
}

func TestUpsertIdempotentAgainstMySQL(t *testing.T) {
	store := startMySQL(t)
	ctx := context.Background()
	cfg := fieldmap.Contacts

	values := fieldmap.CoerceAll(map[string]any{
		"email":            "c1@example.com",
		"lastmodifieddate": "2024-03-01T10:00:00.123Z",
		"hs_score":         "0",
		"is_vip":           "false",
	})
	manifest, err := fieldmap.NewReconciler(store, nil).Reconcile(ctx, cfg, values)
	require.NoError(t, err)

	primary, ext, dropped := fieldmap.Split(manifest, "c1", values)
	require.Empty(t, dropped)
	for i := 0; i < 2; i++ {
		_, err = store.Upsert(ctx, cfg.Table, cfg.IDColumn, primary)
		require.NoError(t, err)
		_, err = store.Upsert(ctx, cfg.ExtensionTable, cfg.IDColumn, ext)
		require.NoError(t, err)
	}

	n, err := store.TableCount(ctx, cfg.Table)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rec, err := store.GetRecord(ctx, cfg, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1@example.com", rec["email"])
	assert.EqualValues(t, 0, rec["hs_score"])

	_, err = store.Upsert(ctx, cfg.Table, cfg.IDColumn, fieldmap.Row{cfg.IDColumn: "c1", "email": "new@example.com"})
	require.NoError(t, err)
	rec, err = store.GetRecord(ctx, cfg, "c1")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", rec["email"])
	assert.Equal(t, "c1", rec["hubspot_id"])

	got, found, err := store.LastModified(ctx, cfg, "c1")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.Equal(time.Date(2024, 3, 1, 10, 0, 0, 123e6, time.UTC)))
}

func TestOrphanScanAgainstMySQL(t *testing.T) {
	store := startMySQL(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, "hub_contacts", "hubspot_id", fieldmap.Row{"hubspot_id": "c1", "email": "a"})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, "hub_deals", "hubspot_deal_id", fieldmap.Row{"hubspot_deal_id": "d1", "dealname": "x"})
	require.NoError(t, err)

	inserted, err := store.UpsertAssociation(ctx, "c1", "d1", "")
	require.NoError(t, err)
	assert.True(t, inserted)

	orphans, err := store.OrphanAssociations(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, orphans)

	_, err = store.UpsertAssociation(ctx, "c1", "d404", "")
	require.NoError(t, err)
	orphans, err = store.OrphanAssociations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.True(t, orphans[0].MissingDeal)

	deals, err := store.ContactDeals(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, deals, 1)
	assert.Equal(t, "d1", deals[0].DealID)
}
