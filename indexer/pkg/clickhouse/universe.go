package clickhouse

import (
	"context"
	"fmt"
)

// SymbolsByIndustry returns the stock symbols of asset_header in industry,
// ordered by symbol.
func (s *Store) SymbolsByIndustry(ctx context.Context, industry string) ([]string, error) {
	conn, err := s.client.Conn(ctx)
	if err != nil {
		return nil, wrapError("get connection", err)
	}
	defer conn.Close()

	rows, err := conn.Query(ctx, `
		SELECT symbol
		FROM asset_header FINAL
		WHERE industry = ? AND asset_type = 'stock'
		ORDER BY symbol
	`, industry)
	if err != nil {
		return nil, wrapError("query symbols", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, symbol)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("read symbols", err)
	}
	return symbols, nil
}
