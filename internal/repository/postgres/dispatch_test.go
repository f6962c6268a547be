package postgres

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/referral-api/internal/model"
)

func TestActiveForAmbulanceNone(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDispatchRepository(db)
	ambulance := uuid.New()

	mock.ExpectQuery("FROM ambulance_dispatches WHERE ambulance_id = \\$1 AND status NOT IN").
		WithArgs(ambulance).
		WillReturnError(sql.ErrNoRows)

	d, err := repo.ActiveForAmbulance(context.Background(), ambulance)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestDispatchHistory(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDispatchRepository(db)
	id := uuid.New()
	lat := 12.97

	mock.ExpectQuery("FROM dispatch_status_updates WHERE dispatch_id = \\$1 ORDER BY created_at ASC").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "dispatch_id", "old_status", "new_status", "latitude", "created_at"}).
			AddRow(uuid.New(), id, "dispatched", "acknowledged", nil, fixedTime).
			AddRow(uuid.New(), id, "acknowledged", "en_route_pickup", lat, fixedTime))

	history, err := repo.History(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Nil(t, history[0].Latitude)
	assert.Equal(t, model.DispatchStatusEnRoutePickup, history[1].NewStatus)
	assert.InDelta(t, lat, *history[1].Latitude, 1e-9)
}

func TestDispatchListActiveOnly(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDispatchRepository(db)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "ambulance_dispatches" WHERE \("status" NOT IN \(\$1, \$2\)\)`).
		WithArgs("completed", "cancelled").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`FROM "ambulance_dispatches"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	items, total, err := repo.List(context.Background(), &model.DispatchFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, items)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetEstimateTouchesOnlyEstimateColumns(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDispatchRepository(db)
	id := uuid.New()

	mock.ExpectExec(`UPDATE ambulance_dispatches\s+SET estimated_distance_km = \$1, estimated_duration_min = \$2, updated_at = \$3\s+WHERE id = \$4\s*$`).
		WithArgs(8.4, 14.0, sqlmock.AnyArg(), id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetEstimate(context.Background(), id, 8.4, 14.0))
	assert.NoError(t, mock.ExpectationsWereMet())
}
