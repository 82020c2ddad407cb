package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zh.xyz/dv/hubsync/config"
	"zh.xyz/dv/hubsync/hubspot"
	"zh.xyz/dv/hubsync/models"
)

func newTestSync(crm *fakeCRM, w *fakeWarehouse, rec RunRecorder, opts Options) *SyncService {
	return NewSyncService(crm, w, rec, nil, opts)
}

func seedScenario(crm *fakeCRM) {
	crm.contacts = []hubspot.Object{
		contact("101", "2024-03-10T08:00:00.123Z", map[string]any{
			"email":                "c1@example.com",
			"custom_score":         "42",
			"num_associated_deals": "1",
		}),
	}
	crm.deals["201"] = deal("201", "2024-03-09T10:00:00.000Z", map[string]any{
		"dealname":      "D1",
		"amount":        "1500.50",
		"deal_priority": "high",
	})
	crm.links["101"] = []string{"201"}
}

func TestRunEndToEnd(t *testing.T) {
	crm, w, rec := newFakeCRM(), newFakeWarehouse(), newMemRecorder()
	seedScenario(crm)
	svc := newTestSync(crm, w, rec, testOptions())

	res, err := svc.Run(context.Background(), SyncOptions{WindowOptions: WindowOptions{Days: 7}, Trigger: "cli"})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Contacts.Fetched)
	assert.Equal(t, 1, res.Contacts.Synced)
	assert.Equal(t, 1, res.Deals.Synced)
	assert.Equal(t, 1, res.Associations.Discovered)
	assert.Equal(t, 1, res.Associations.Inserted)
	assert.Zero(t, res.Associations.Deferred)

	c := w.row("hub_contacts", "101")
	require.NotNil(t, c)
	assert.Equal(t, "c1@example.com", c["email"])
	assert.Equal(t, int64(1), c["num_associated_deals"])
	assert.Equal(t, time.Date(2024, 3, 10, 8, 0, 0, 123e6, time.UTC), c["lastmodifieddate"])

	ext := w.row("hub_contacts_ext", "101")
	require.NotNil(t, ext)
	assert.Equal(t, int64(42), ext["custom_score"])
	assert.Equal(t, "int", w.columns["hub_contacts_ext"]["custom_score"])

	d := w.row("hub_deals", "201")
	require.NotNil(t, d)
	assert.Equal(t, "D1", d["dealname"])
	assert.Equal(t, "high", w.row("hub_deals_ext", "201")["deal_priority"])
	assert.Equal(t, "contact_to_deal", w.assocs[assocKey{"101", "201"}])

	run := rec.run(res.RunID)
	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Equal(t, "cli", run.Trigger)
	assert.Equal(t, 1, run.ContactsSynced)
	assert.Equal(t, 1, run.AssociationsInserted)
	require.NotNil(t, run.WindowStart)
	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), *run.WindowStart)
}

func TestRunSearchesWindowWithoutImportsAndSkipList(t *testing.T) {
	crm, w := newFakeCRM(), newFakeWarehouse()
	seedScenario(crm)
	svc := newTestSync(crm, w, nil, testOptions())

	res, err := svc.Run(context.Background(), SyncOptions{WindowOptions: WindowOptions{Month: "2024-02"}})
	require.NoError(t, err)

	require.Len(t, crm.searches, 1)
	req := crm.searches[0]
	filters := req.FilterGroups[0].Filters
	assert.Equal(t, "lastmodifieddate", filters[0].PropertyName)
	assert.Equal(t, fmt.Sprint(res.Window.Start.UnixMilli()), filters[0].Value)
	assert.Equal(t, fmt.Sprint(res.Window.End.UnixMilli()), filters[0].HighValue)
	assert.Equal(t, hubspot.Filter{PropertyName: "hs_object_source", Operator: "NEQ", Value: "IMPORT"}, filters[1])
	assert.Contains(t, req.Properties, "custom_score")
	assert.NotContains(t, req.Properties, "industry")
	assert.Equal(t, 100, req.Limit)
}

func TestRunDropsOutOfRangeFieldButKeepsRecord(t *testing.T) {
	crm, w := newFakeCRM(), newFakeWarehouse()
	crm.contacts = []hubspot.Object{
		contact("101", "2024-03-10T08:00:00Z", map[string]any{"custom_score": "42"}),
		contact("102", "2024-03-10T09:00:00Z", map[string]any{"custom_score": "3000000000", "email": "big@example.com"}),
	}
	svc := newTestSync(crm, w, nil, testOptions())

	res, err := svc.Run(context.Background(), SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Contacts.Synced)
	assert.Zero(t, res.Contacts.Failed)
	assert.Equal(t, 1, res.Contacts.DroppedFields)
	assert.Equal(t, "int", w.columns["hub_contacts_ext"]["custom_score"])
	assert.Equal(t, "big@example.com", w.row("hub_contacts", "102")["email"])
	assert.NotContains(t, w.row("hub_contacts_ext", "102"), "custom_score")
}

func TestSecondRunSkipsUnchangedButStoresNewAssociation(t *testing.T) {
	crm, w := newFakeCRM(), newFakeWarehouse()
	seedScenario(crm)
	svc := newTestSync(crm, w, nil, testOptions())

	_, err := svc.Run(context.Background(), SyncOptions{})
	require.NoError(t, err)

	crm.deals["202"] = deal("202", "2024-03-11T00:00:00Z", map[string]any{"dealname": "D2"})
	crm.links["101"] = []string{"201", "202"}

	res, err := svc.Run(context.Background(), SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Contacts.Skipped)
	assert.Zero(t, res.Contacts.Synced)
	assert.Equal(t, 1, res.Deals.Skipped)
	assert.Equal(t, 1, res.Deals.Synced)
	assert.Equal(t, 2, res.Associations.Discovered)
	assert.Equal(t, 1, res.Associations.Inserted)
	assert.Equal(t, 1, res.Associations.Refreshed)
	assert.Len(t, w.assocs, 2)
	require.Len(t, crm.assocCalls, 2)
	assert.Equal(t, []string{"101"}, crm.assocCalls[1])
}

func TestRunDefersAssociationWithMissingDeal(t *testing.T) {
	crm, w := newFakeCRM(), newFakeWarehouse()
	seedScenario(crm)
	crm.links["101"] = []string{"201", "299"}
	rec := newMemRecorder()
	svc := newTestSync(crm, w, rec, testOptions())

	res, err := svc.Run(context.Background(), SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Associations.Inserted)
	assert.Equal(t, 1, res.Associations.Deferred)
	var warnings []string
	for _, l := range rec.logs {
		if l.LogType == models.LogTypeWarning {
			warnings = append(warnings, l.Message)
		}
	}
	assert.Equal(t, []string{"1 条关联一端不在本地，暂不写入"}, warnings)
	_, ok := w.assocs[assocKey{"101", "299"}]
	assert.False(t, ok)
	for key := range w.assocs {
		assert.NotNil(t, w.row("hub_contacts", key.contact))
		assert.NotNil(t, w.row("hub_deals", key.deal))
	}
}

func TestRunIsolatesRecordWriteFailures(t *testing.T) {
	crm, w := newFakeCRM(), newFakeWarehouse()
	seedScenario(crm)
	crm.contacts = append(crm.contacts, contact("102", "2024-03-12T00:00:00Z", map[string]any{"email": "c2@example.com"}))
	crm.links["102"] = []string{"201"}
	w.upsertErr["102"] = errors.New("Data too long")
	rec := newMemRecorder()
	svc := newTestSync(crm, w, rec, testOptions())

	res, err := svc.Run(context.Background(), SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Contacts.Fetched)
	assert.Equal(t, 1, res.Contacts.Synced)
	assert.Equal(t, 1, res.Contacts.Failed)
	assert.Equal(t, 1, res.Associations.Inserted)
	assert.Equal(t, 1, res.Associations.Deferred)

	var errorLogs int
	for _, l := range rec.logs {
		if l.LogType == models.LogTypeError {
			errorLogs++
		}
	}
	assert.Equal(t, 1, errorLogs)
}

func TestRunFailsOnIntrospectionErrorWithPartialCounts(t *testing.T) {
	crm, w, rec := newFakeCRM(), newFakeWarehouse(), newMemRecorder()
	seedScenario(crm)
	w.columnsErr = errors.New("connection reset")
	notifier := &captureNotifier{}
	opts := testOptions()
	opts.Notifier = notifier
	svc := newTestSync(crm, w, rec, opts)

	res, err := svc.Run(context.Background(), SyncOptions{})
	require.Error(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "contacts", res.Stage)
	assert.Equal(t, 1, res.Contacts.Fetched)
	assert.Zero(t, res.Contacts.Synced)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, models.RunStatusFailed, rec.run(res.RunID).Status)
	assert.Equal(t, 1, notifier.calls)
	assert.Equal(t, res.RunID, notifier.last.RunID)
	assert.Empty(t, crm.assocCalls)
}

func TestRunRetriesTransientSearchError(t *testing.T) {
	crm, w := newFakeCRM(), newFakeWarehouse()
	seedScenario(crm)
	crm.searchErrs = []error{&hubspot.APIError{Status: 503, Message: "unavailable"}, nil}
	svc := newTestSync(crm, w, nil, testOptions())

	res, err := svc.Run(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Len(t, crm.searches, 2)
	assert.Equal(t, 1, res.Contacts.Synced)
}

func TestRunStopsOnPermanentSearchError(t *testing.T) {
	crm, w := newFakeCRM(), newFakeWarehouse()
	seedScenario(crm)
	crm.searchErrs = []error{&hubspot.APIError{Status: 400, Message: "bad filter"}}
	svc := newTestSync(crm, w, nil, testOptions())

	_, err := svc.Run(context.Background(), SyncOptions{})
	var apiErr *hubspot.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Status)
	assert.Len(t, crm.searches, 1)
}

func TestRunPagesThroughContacts(t *testing.T) {
	crm, w := newFakeCRM(), newFakeWarehouse()
	for i := 0; i < 250; i++ {
		crm.contacts = append(crm.contacts, contact(fmt.Sprint(1000+i), "2024-03-10T00:00:00Z", map[string]any{"email": "x"}))
	}
	svc := newTestSync(crm, w, nil, testOptions())

	res, err := svc.Run(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Len(t, crm.searches, 3)
	assert.Equal(t, 250, res.Contacts.Synced)
	assert.Equal(t, 250, res.Contacts.Total)
	assert.Len(t, crm.assocCalls, 3)
	assert.Empty(t, crm.batchReads)
}

func TestRunInvalidWindow(t *testing.T) {
	svc := newTestSync(newFakeCRM(), newFakeWarehouse(), nil, testOptions())
	res, err := svc.Run(context.Background(), SyncOptions{WindowOptions: WindowOptions{End: "2024-01-01"}})
	require.Error(t, err)
	assert.Equal(t, "window", res.Stage)
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	svc := newTestSync(newFakeCRM(), newFakeWarehouse(), nil, testOptions())
	svc.running.Lock()
	defer svc.running.Unlock()

	_, err := svc.Run(context.Background(), SyncOptions{})
	assert.ErrorIs(t, err, ErrSyncInProgress)
	_, err = svc.RunAsync(SyncOptions{})
	assert.ErrorIs(t, err, ErrSyncInProgress)
}

func TestRunAsyncReturnsRunID(t *testing.T) {
	crm, w, rec := newFakeCRM(), newFakeWarehouse(), newMemRecorder()
	seedScenario(crm)
	svc := newTestSync(crm, w, rec, testOptions())

	id, err := svc.RunAsync(SyncOptions{Trigger: "http"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	assert.Eventually(t, func() bool {
		return rec.run(id).Status == models.RunStatusSuccess
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSyncAssociationsUsesCandidates(t *testing.T) {
	crm, w := newFakeCRM(), newFakeWarehouse()
	seedScenario(crm)
	crm.links = map[string][]string{}
	svc := newTestSync(crm, w, nil, testOptions())
	_, err := svc.Run(context.Background(), SyncOptions{})
	require.NoError(t, err)
	require.Empty(t, w.assocs)

	crm.links["101"] = []string{"201"}
	w.candidates = []string{"101"}
	res, err := svc.SyncAssociations(context.Background(), nil, SyncOptions{Trigger: "cli"})
	require.NoError(t, err)

	assert.Equal(t, RunKindAssociations, res.Kind)
	assert.Equal(t, 1, res.Associations.Contacts)
	assert.Equal(t, 1, res.Associations.Inserted)
	assert.Equal(t, 1, res.Deals.Synced)
}

func TestSyncAssociationsExplicitIDs(t *testing.T) {
	crm, w := newFakeCRM(), newFakeWarehouse()
	seedScenario(crm)
	svc := newTestSync(crm, w, nil, testOptions())

	res, err := svc.SyncAssociations(context.Background(), []string{"101"}, SyncOptions{})
	require.NoError(t, err)
	// 联系人还没同步过，关联延后
	assert.Equal(t, 1, res.Deals.Synced)
	assert.Equal(t, 1, res.Associations.Deferred)
	assert.Empty(t, w.assocs)
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := OptionsFromConfig(config.SyncConfig{
		PageSize:          500,
		PageDelayMS:       0,
		BatchDelayMS:      250,
		MaxAttempts:       3,
		DefaultRetryAfter: 4,
		Timezone:          "Asia/Shanghai",
	})
	require.NoError(t, err)
	assert.Equal(t, 100, opts.PageSize)
	assert.Zero(t, opts.PageDelay)
	assert.Equal(t, 250*time.Millisecond, opts.BatchDelay)
	assert.Equal(t, 3, opts.Retry.MaxAttempts)
	assert.Equal(t, 8, opts.Retry.MaxConsecutiveFailures)
	assert.Equal(t, 4*time.Second, opts.Retry.DefaultRetryAfter)
	assert.Equal(t, "Asia/Shanghai", opts.Location.String())

	_, err = OptionsFromConfig(config.SyncConfig{Timezone: "Mars/Olympus"})
	assert.Error(t, err)
}
