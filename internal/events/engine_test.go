package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clawkeeper/internal/models"
	"clawkeeper/internal/storage"
)

type fixture struct {
	store  *storage.MockStorage
	engine *Engine
	org    *models.Organization
	host   *models.Host
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := storage.NewMockStorage()
	org, err := store.CreateOrganization("acme", "owner@acme.test", models.PlanPro)
	require.NoError(t, err)

	host := &models.Host{OrgID: org.ID, Hostname: "web-01", Platform: "ubuntu"}
	require.NoError(t, store.CreateHost(host))

	return &fixture{
		store:  store,
		engine: NewEngine(store),
		org:    org,
		host:   host,
	}
}

func (f *fixture) addScan(t *testing.T, grade string, score int, scannedAt time.Time, checks []models.CheckPayload) *models.Scan {
	t.Helper()

	scan := &models.Scan{
		HostID:    f.host.ID,
		OrgID:     f.org.ID,
		Grade:     grade,
		Score:     score,
		ScannedAt: scannedAt,
	}
	require.NoError(t, f.store.CreateScan(scan))
	require.NoError(t, f.store.InsertChecks(scan.ID, checks))
	return scan
}

func payloadFor(grade string, score int, checks []models.CheckPayload) *models.ScanPayload {
	return &models.ScanPayload{
		Hostname: "web-01",
		Grade:    grade,
		Score:    score,
		Checks:   checks,
	}
}

func TestFirstScanEmitsCompletedAndRegistered(t *testing.T) {
	f := newFixture(t)

	scan := f.addScan(t, "B", 85, time.Now(), nil)
	f.engine.RecordScanEvents(f.host, scan, payloadFor("B", 85, nil), true)

	assert.Len(t, f.store.EventsOfType(f.org.ID, models.EventHostRegistered), 1)
	completed := f.store.EventsOfType(f.org.ID, models.EventScanCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, f.host.ID, completed[0].HostID)
	assert.Equal(t, models.ActorAgent, completed[0].Actor)

	// No prior scan, so nothing to diff
	assert.Empty(t, f.store.EventsOfType(f.org.ID, models.EventGradeChanged))
	assert.Empty(t, f.store.EventsOfType(f.org.ID, models.EventCheckFlipped))
}

func TestExistingHostDoesNotReRegister(t *testing.T) {
	f := newFixture(t)

	scan := f.addScan(t, "B", 85, time.Now(), nil)
	f.engine.RecordScanEvents(f.host, scan, payloadFor("B", 85, nil), false)

	assert.Empty(t, f.store.EventsOfType(f.org.ID, models.EventHostRegistered))
	assert.Len(t, f.store.EventsOfType(f.org.ID, models.EventScanCompleted), 1)
}

func TestGradeChangeEmitsEvent(t *testing.T) {
	f := newFixture(t)

	f.addScan(t, "B", 85, time.Now().Add(-time.Hour), nil)
	scan := f.addScan(t, "D", 60, time.Now(), nil)
	f.engine.RecordScanEvents(f.host, scan, payloadFor("D", 60, nil), false)

	changed := f.store.EventsOfType(f.org.ID, models.EventGradeChanged)
	require.Len(t, changed, 1)
	assert.Contains(t, changed[0].Title, "from B to D")
	assert.Equal(t, models.ActorSystem, changed[0].Actor)
}

func TestGradeImprovementAlsoEmits(t *testing.T) {
	f := newFixture(t)

	f.addScan(t, "C", 70, time.Now().Add(-time.Hour), nil)
	scan := f.addScan(t, "A", 95, time.Now(), nil)
	f.engine.RecordScanEvents(f.host, scan, payloadFor("A", 95, nil), false)

	assert.Len(t, f.store.EventsOfType(f.org.ID, models.EventGradeChanged), 1)
}

func TestCheckFlips(t *testing.T) {
	f := newFixture(t)

	prevChecks := []models.CheckPayload{
		{Status: models.CheckStatusPass, CheckName: "Firewall enabled"},
		{Status: models.CheckStatusFail, CheckName: "SSH root login disabled"},
		{Status: models.CheckStatusPass, CheckName: "Disk encryption"},
	}
	newChecks := []models.CheckPayload{
		{Status: models.CheckStatusFail, CheckName: "Firewall enabled"},              // flip
		{Status: models.CheckStatusPass, CheckName: "SSH root login disabled"},       // flip
		{Status: models.CheckStatusPass, CheckName: "Disk encryption"},               // unchanged
		{Status: models.CheckStatusFail, CheckName: "Automatic updates configured"}, // new, not a flip
	}

	f.addScan(t, "B", 85, time.Now().Add(-time.Hour), prevChecks)
	scan := f.addScan(t, "B", 82, time.Now(), newChecks)
	f.engine.RecordScanEvents(f.host, scan, payloadFor("B", 82, newChecks), false)

	flips := f.store.EventsOfType(f.org.ID, models.EventCheckFlipped)
	require.Len(t, flips, 2)

	// Grade stayed at B
	assert.Empty(t, f.store.EventsOfType(f.org.ID, models.EventGradeChanged))
}

func TestDiffUsesMostRecentPreviousScan(t *testing.T) {
	f := newFixture(t)

	f.addScan(t, "F", 20, time.Now().Add(-2*time.Hour), nil)
	f.addScan(t, "B", 85, time.Now().Add(-time.Hour), nil)
	scan := f.addScan(t, "B", 85, time.Now(), nil)
	f.engine.RecordScanEvents(f.host, scan, payloadFor("B", 85, nil), false)

	// Diff is against the B scan, not the older F scan
	assert.Empty(t, f.store.EventsOfType(f.org.ID, models.EventGradeChanged))
}

func TestStorageFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)

	scan := f.addScan(t, "B", 85, time.Now(), nil)
	f.store.FailCreateEvent = true

	assert.NotPanics(t, func() {
		f.engine.RecordScanEvents(f.host, scan, payloadFor("B", 85, nil), true)
	})
	assert.Empty(t, f.store.EventsOfType(f.org.ID, models.EventScanCompleted))
}
