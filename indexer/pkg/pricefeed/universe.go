package pricefeed

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/malbeclabs/pricelake/indexer/pkg/warehouse"
)

// Universe lists the symbols tracked for an industry.
type Universe interface {
	SymbolsByIndustry(ctx context.Context, industry string) ([]string, error)
}

type SQLUniverse struct {
	db      *sql.DB
	dialect warehouse.SQLDialect
}

func NewSQLUniverse(db *sql.DB, dialect warehouse.SQLDialect) *SQLUniverse {
	return &SQLUniverse{db: db, dialect: dialect}
}

func (u *SQLUniverse) SymbolsByIndustry(ctx context.Context, industry string) ([]string, error) {
	return SymbolsByIndustry(ctx, u.db, u.dialect, industry)
}

// SymbolsByIndustry returns the stock symbols of asset_header in industry,
// ordered by symbol.
func SymbolsByIndustry(ctx context.Context, db *sql.DB, d warehouse.SQLDialect, industry string) ([]string, error) {
	query := fmt.Sprintf(`SELECT symbol FROM asset_header WHERE industry = %s AND asset_type = 'stock' ORDER BY symbol`, d.Placeholder(1))
	rows, err := db.QueryContext(ctx, query, industry)
	if err != nil {
		return nil, warehouse.WrapStoreError("query symbols", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, s)
	}
	if err := rows.Err(); err != nil {
		return nil, warehouse.WrapStoreError("read symbols", err)
	}
	return symbols, nil
}
