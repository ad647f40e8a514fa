package catalog

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newMocked(t *testing.T) (*Catalog, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sx := sqlx.NewDb(db, "mysql")
	c := &Catalog{db: sx, sb: sq.StatementBuilder.PlaceholderFormat(sq.Question)}
	return c, mock
}

func TestPlatesForCompany(t *testing.T) {
	c, mock := newMocked(t)

	rows := sqlmock.NewRows([]string{"id"}).AddRow("T-100").AddRow("T-200").AddRow("")
	mock.ExpectQuery("SELECT id FROM trucks WHERE company_id = ?").
		WithArgs(7).
		WillReturnRows(rows)

	plates, err := c.PlatesForCompany(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, []string{"T-100", "T-200"}, plates)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitIDForTireFound(t *testing.T) {
	c, mock := newMocked(t)

	rows := sqlmock.NewRows([]string{"unit_id"}).AddRow("T-100")
	mock.ExpectQuery("SELECT unit_id FROM tires WHERE id = ?").
		WithArgs("TYRE-9").
		WillReturnRows(rows)

	unitID, ok, err := c.UnitIDForTire(context.Background(), "TYRE-9")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "T-100", unitID)
}

func TestUnitIDForTireNotFound(t *testing.T) {
	c, mock := newMocked(t)

	mock.ExpectQuery("SELECT unit_id FROM tires WHERE id = ?").
		WithArgs("MISSING").
		WillReturnRows(sqlmock.NewRows([]string{"unit_id"}))

	_, ok, err := c.UnitIDForTire(context.Background(), "MISSING")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTruckLayout(t *testing.T) {
	c, mock := newMocked(t)

	mock.ExpectQuery("SELECT unit_catalog_id FROM trucks WHERE id = ?").
		WithArgs("T-100").
		WillReturnRows(sqlmock.NewRows([]string{"unit_catalog_id"}).AddRow("UC-1"))

	layoutRows := sqlmock.NewRows([]string{"axles_count", "tires_axle_1", "tires_axle_2", "tires_axle_3", "tires_axle_4"}).
		AddRow(3, 2, 4, 4, nil)
	mock.ExpectQuery("SELECT axles_count, tires_axle_1, tires_axle_2, tires_axle_3, tires_axle_4 FROM unit_catalog WHERE id = ?").
		WithArgs("UC-1").
		WillReturnRows(layoutRows)

	axles, perAxle, ok, err := c.TruckLayout(context.Background(), "T-100")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, axles)
	require.Equal(t, []int{2, 4, 4}, perAxle)
}

func TestTruckLayoutUnknownPlate(t *testing.T) {
	c, mock := newMocked(t)

	mock.ExpectQuery("SELECT unit_catalog_id FROM trucks WHERE id = ?").
		WithArgs("GHOST").
		WillReturnRows(sqlmock.NewRows([]string{"unit_catalog_id"}))

	_, _, ok, err := c.TruckLayout(context.Background(), "GHOST")
	require.NoError(t, err)
	require.False(t, ok)
}
