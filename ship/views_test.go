package ship

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harborward/theseus-go/core/es"
)

func newTestFleet(t *testing.T) (*es.TestingEnv, *Service, *Maintenance, *Fleet, *Risk) {
	t.Helper()
	maintenance := NewMaintenance()
	fleet := NewFleet()
	risk := NewRisk()
	e, svc := newTestService(t, es.WithProjections(maintenance, fleet, risk))
	return e, svc, maintenance, fleet, risk
}

func maintenanceView(t *testing.T, e *es.TestingEnv, shipID string) MaintenanceView {
	t.Helper()
	view, ok, err := e.Projections().ViewOf(MaintenanceContext, shipID)
	require.NoError(t, err)
	require.True(t, ok)
	return view.(MaintenanceView)
}

func waitForRepairs(t *testing.T, m *Maintenance, shipID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		v, ok := m.View(shipID)
		return ok && len(v.(MaintenanceView).Repairs) >= n
	}, 2*time.Second, 5*time.Millisecond)
}

// Two ships end up with byte-identical hulls through different repair
// histories. The fleet context, which sees ships as value objects, cannot
// tell them apart; the maintenance context, which sees ships as narratives,
// can.
func TestBoundedContexts_DisagreeOnIdentity(t *testing.T) {
	ctx := t.Context()
	e, svc, maintenance, _, _ := newTestFleet(t)

	teak := func(i int) Plank { return Plank{Material: "teak", LengthCm: 300 + i, WidthCm: 30} }

	a, err := svc.Launch(ctx, "Theseus A", testHull())
	require.NoError(t, err)
	b, err := svc.Launch(ctx, "Theseus B", testHull())
	require.NoError(t, err)

	// same replacements, opposite order
	require.NoError(t, svc.ReplacePlank(ctx, a, 0, teak(0)))
	require.NoError(t, svc.ReplacePlank(ctx, a, 1, teak(1)))
	require.NoError(t, svc.ReplacePlank(ctx, b, 1, teak(1)))
	require.NoError(t, svc.ReplacePlank(ctx, b, 0, teak(0)))

	shipA, err := svc.Get(ctx, a)
	require.NoError(t, err)
	shipB, err := svc.Get(ctx, b)
	require.NoError(t, err)
	require.Equal(t, shipA.Hull, shipB.Hull)

	waitForRepairs(t, maintenance, a, 2)
	waitForRepairs(t, maintenance, b, 2)

	t.Run("fleet sees the same ship twice", func(t *testing.T) {
		viewA, ok, err := e.Projections().ViewOf(FleetContext, a)
		require.NoError(t, err)
		require.True(t, ok)
		viewB, ok, err := e.Projections().ViewOf(FleetContext, b)
		require.NoError(t, err)
		require.True(t, ok)

		specA := viewA.(FleetSpec)
		specB := viewB.(FleetSpec)
		require.Equal(t, specA.CargoCapacity, specB.CargoCapacity)
		require.Equal(t, specA.CrewSize, specB.CrewSize)
	})

	t.Run("maintenance sees two different narratives", func(t *testing.T) {
		repairsA := maintenanceView(t, e, a).Repairs
		repairsB := maintenanceView(t, e, b).Repairs
		require.Len(t, repairsA, 2)
		require.Len(t, repairsB, 2)
		require.Equal(t, 0, repairsA[0].PlankIndex)
		require.Equal(t, 1, repairsB[0].PlankIndex)
		require.NotEqual(t, repairsA[0], repairsB[0])
	})
}

func TestMaintenance_NeedsInspection(t *testing.T) {
	ctx := t.Context()
	e, svc, maintenance, _, _ := newTestFleet(t)

	id, err := svc.Launch(ctx, "Argo", testHull())
	require.NoError(t, err)

	require.NoError(t, svc.ReplacePlank(ctx, id, 0, Plank{Material: "teak", LengthCm: 300, WidthCm: 30}))
	waitForRepairs(t, maintenance, id, 1)
	require.True(t, maintenanceView(t, e, id).NeedsInspection())

	require.NoError(t, svc.Inspect(ctx, id, "hull sound"))
	require.Eventually(t, func() bool {
		return !maintenanceView(t, e, id).LastInspectedAt.IsZero()
	}, 2*time.Second, 5*time.Millisecond)
	require.False(t, maintenanceView(t, e, id).NeedsInspection())
}

func TestFleet_SpecAndArchival(t *testing.T) {
	ctx := t.Context()
	e, svc, _, fleet, _ := newTestFleet(t)

	id, err := svc.Launch(ctx, "Argo", testHull())
	require.NoError(t, err)

	// one teak plank in the standard test hull
	require.Eventually(t, func() bool {
		view, ok := fleet.View(id)
		return ok && view.(FleetSpec).CargoCapacity == cargoPerTeakPlank
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, svc.ReplacePlank(ctx, id, 0, Plank{Material: "teak", LengthCm: 300, WidthCm: 30}))
	require.Eventually(t, func() bool {
		view, ok := fleet.View(id)
		return ok && view.(FleetSpec).CargoCapacity == 2*cargoPerTeakPlank
	}, 2*time.Second, 5*time.Millisecond)

	view, ok, err := e.Projections().ViewOf(FleetContext, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, standardCrewSize, view.(FleetSpec).CrewSize)

	require.NoError(t, svc.Archive(ctx, id, "sold"))
	require.Eventually(t, func() bool {
		_, ok := fleet.View(id)
		return !ok
	}, 2*time.Second, 5*time.Millisecond)
	require.Zero(t, fleet.Size())
}

func TestProjections_Rebuild(t *testing.T) {
	ctx := t.Context()
	e, svc, maintenance, _, _ := newTestFleet(t)

	id, err := svc.Launch(ctx, "Argo", testHull())
	require.NoError(t, err)
	require.NoError(t, svc.ReplacePlank(ctx, id, 0, Plank{Material: "teak", LengthCm: 300, WidthCm: 30}))
	waitForRepairs(t, maintenance, id, 1)

	// refold from offset zero; the view comes back identical
	require.NoError(t, e.Projections().Rebuild(ctx, MaintenanceContext))
	view := maintenanceView(t, e, id)
	require.Equal(t, "Argo", view.Name)
	require.Len(t, view.Repairs, 1)
}

func TestRisk_ScoreAndReview(t *testing.T) {
	ctx := t.Context()
	_, svc, _, _, risk := newTestFleet(t)

	id, err := svc.Launch(ctx, "Argo", testHull())
	require.NoError(t, err)

	// five replacements across three materials: 5*10 + 2*5 = 60
	materials := []string{"teak", "pine", "teak", "pine", "oak"}
	for i, m := range materials {
		require.NoError(t, svc.ReplacePlank(ctx, id, i%3, Plank{Material: m, LengthCm: 300, WidthCm: 30}))
	}

	require.Eventually(t, func() bool {
		v, ok := risk.View(id)
		return ok && v.(RiskView).Replacements == 5
	}, 2*time.Second, 5*time.Millisecond)

	view, _ := risk.View(id)
	rv := view.(RiskView)
	require.Equal(t, 3, rv.Materials)
	require.Equal(t, 60, rv.Score)
	require.True(t, rv.NeedsReview())

	t.Run("inspection halves the score", func(t *testing.T) {
		require.NoError(t, svc.Inspect(ctx, id, "surveyed"))
		require.Eventually(t, func() bool {
			v, ok := risk.View(id)
			return ok && v.(RiskView).Score == 30
		}, 2*time.Second, 5*time.Millisecond)
		v, _ := risk.View(id)
		require.False(t, v.(RiskView).NeedsReview())
	})
}
