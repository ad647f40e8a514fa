// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package catalog implements C1: read-only queries against the
// relational truck/company/unit catalog (spec.md §4.1), adapted from the
// teacher's internal/repository connection-and-query-builder pattern and
// grounded on the original's app/db/mysql.py and app/utils/helpers.py.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"
)

// Catalog is a read-only client over the MySQL-backed truck catalog.
type Catalog struct {
	db *sqlx.DB
	sb sq.StatementBuilderType
}

// Connect opens the MySQL connection pool, mirroring the teacher's
// repository.Connect sizing for a mysql driver.
func Connect(dsn string) (*Catalog, error) {
	db, err := sqlx.Open("mysql", fmt.Sprintf("%s?parseTime=true", dsn))
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}

	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}

	return &Catalog{db: db, sb: sq.StatementBuilder.PlaceholderFormat(sq.Question)}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

// PlatesForCompany returns every truck's plate (trucks.id) owned by the
// given company, used for authorization (C8) and bootstrap filtering
// (C9). Mirrors app/db/mysql.py's get_license_plates_by_company.
func (c *Catalog) PlatesForCompany(ctx context.Context, companyID int) ([]string, error) {
	query, args, err := c.sb.Select("id").From("trucks").Where(sq.Eq{"company_id": companyID}).ToSql()
	if err != nil {
		return nil, err
	}

	var rows []string
	if err := c.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("catalog: plates for company %d: %w", companyID, err)
	}

	plates := make([]string, 0, len(rows))
	for _, r := range rows {
		if p := strings.TrimSpace(r); p != "" {
			plates = append(plates, p)
		}
	}
	return plates, nil
}

// UnitIDForTire returns the unit (plate) a tyreCode is bound to, or ok
// false if unbound/unknown. Mirrors get_unit_id_by_tire_id.
func (c *Catalog) UnitIDForTire(ctx context.Context, tyreCode string) (unitID string, ok bool, err error) {
	query, args, err := c.sb.Select("unit_id").From("tires").Where(sq.Eq{"id": tyreCode}).ToSql()
	if err != nil {
		return "", false, err
	}

	var row string
	if err := c.db.GetContext(ctx, &row, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return "", false, nil
		}
		return "", false, fmt.Errorf("catalog: unit for tire %q: %w", tyreCode, err)
	}

	row = strings.TrimSpace(row)
	return row, row != "", nil
}

// unitStatusRow is the projection read by EnrichmentStatus.
type unitStatusRow struct {
	Status         string `db:"status"`
	UnitIdentifier string `db:"unit_identifier"`
	UnitCatalogID  string `db:"unit_catalog_id"`
}

// EnrichmentStatus reads the truck-status fields that the enrichment
// cache (C4) merges into every message: status, unit_identifier and
// unit_catalog_id (used downstream for unitType). Mirrors
// kafka_consumer.py's inline SELECT in get_vehicle_data.
func (c *Catalog) EnrichmentStatus(ctx context.Context, plate string) (status, unitIdentifier, unitType string, found bool, err error) {
	query, args, err := c.sb.
		Select("status", "unit_identifier", "unit_catalog_id").
		From("trucks").
		Where(sq.Eq{"id": plate}).
		ToSql()
	if err != nil {
		return "", "", "", false, err
	}

	var row unitStatusRow
	if qerr := c.db.GetContext(ctx, &row, query, args...); qerr != nil {
		if qerr.Error() == "sql: no rows in result set" {
			return "", "", "", false, nil
		}
		return "", "", "", false, fmt.Errorf("catalog: enrichment status for %q: %w", plate, qerr)
	}

	return row.Status, row.UnitIdentifier, row.UnitCatalogID, true, nil
}

// layoutRow is the projection read by TruckLayout.
type layoutRow struct {
	AxlesCount int  `db:"axles_count"`
	TiresAxle1 *int `db:"tires_axle_1"`
	TiresAxle2 *int `db:"tires_axle_2"`
	TiresAxle3 *int `db:"tires_axle_3"`
	TiresAxle4 *int `db:"tires_axle_4"`
}

// TruckLayout returns the axle/wheel layout for a plate's unit catalog
// entry, used by the position resolver (C5). Mirrors
// utils/helpers.py's calculate_real_position catalog lookup.
func (c *Catalog) TruckLayout(ctx context.Context, plate string) (axlesCount int, tiresPerAxle []int, ok bool, err error) {
	unitQuery, unitArgs, err := c.sb.Select("unit_catalog_id").From("trucks").Where(sq.Eq{"id": plate}).ToSql()
	if err != nil {
		return 0, nil, false, err
	}

	var unitCatalogID string
	if qerr := c.db.GetContext(ctx, &unitCatalogID, unitQuery, unitArgs...); qerr != nil {
		if qerr.Error() == "sql: no rows in result set" {
			return 0, nil, false, nil
		}
		return 0, nil, false, fmt.Errorf("catalog: unit catalog id for %q: %w", plate, qerr)
	}
	if unitCatalogID == "" {
		return 0, nil, false, nil
	}

	layoutQuery, layoutArgs, err := c.sb.
		Select("axles_count", "tires_axle_1", "tires_axle_2", "tires_axle_3", "tires_axle_4").
		From("unit_catalog").
		Where(sq.Eq{"id": unitCatalogID}).
		ToSql()
	if err != nil {
		return 0, nil, false, err
	}

	var row layoutRow
	if qerr := c.db.GetContext(ctx, &row, layoutQuery, layoutArgs...); qerr != nil {
		if qerr.Error() == "sql: no rows in result set" {
			return 0, nil, false, nil
		}
		return 0, nil, false, fmt.Errorf("catalog: layout for unit %q: %w", unitCatalogID, qerr)
	}

	all := []*int{row.TiresAxle1, row.TiresAxle2, row.TiresAxle3, row.TiresAxle4}
	tiresPerAxle = make([]int, 0, row.AxlesCount)
	for i := 0; i < row.AxlesCount && i < len(all); i++ {
		if all[i] == nil {
			break
		}
		tiresPerAxle = append(tiresPerAxle, *all[i])
	}

	return row.AxlesCount, tiresPerAxle, true, nil
}
