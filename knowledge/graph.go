package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fabfab/retail-ingest/ingestion"
)

// Canonical fields read from records when present.
const (
	fieldCity    = "city"
	fieldSKUName = "sku_name"
	fieldBrand   = "brand_name"
	fieldUnits   = "units"
)

// syncChunkSize bounds the rows sent in one UNWIND statement.
const syncChunkSize = 500

// Neo4jSink mirrors ingested batches as (:SKU)-[:LISTED_ON]->(:Platform) and
// (:SKU)-[:STOCKED_IN]->(:City) relations.
type Neo4jSink struct {
	driver neo4j.DriverWithContext
}

var _ ingestion.GraphSink = (*Neo4jSink)(nil)

func NewNeo4jSink(driver neo4j.DriverWithContext) *Neo4jSink {
	return &Neo4jSink{driver: driver}
}

type skuRow struct {
	key   string
	name  string
	brand string
	city  string
	units float64
}

// SyncBatch merges the batch's platform, SKUs and cities.
func (s *Neo4jSink) SyncBatch(ctx context.Context, batch ingestion.Batch) error {
	if s == nil || s.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	rows := graphRows(batch)
	if len(rows) == 0 {
		return nil
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (p:Platform {name: $platform})
			SET p.updated_at = datetime()
		`, map[string]any{"platform": batch.Platform}); err != nil {
			return nil, fmt.Errorf("upsert platform node: %w", err)
		}

		for start := 0; start < len(rows); start += syncChunkSize {
			end := min(start+syncChunkSize, len(rows))
			if _, err := tx.Run(ctx, `
				UNWIND $rows AS row
				MATCH (p:Platform {name: $platform})
				MERGE (s:SKU {key: row.key})
				SET s.name = CASE WHEN row.name <> '' THEN row.name ELSE s.name END,
				    s.brand = CASE WHEN row.brand <> '' THEN row.brand ELSE s.brand END
				MERGE (s)-[l:LISTED_ON]->(p)
				SET l.batch_id = $batch_id,
				    l.dataset = $dataset
				WITH s, row
				WHERE row.city <> ''
				MERGE (c:City {name: row.city})
				MERGE (s)-[r:STOCKED_IN {platform: $platform}]->(c)
				SET r.units = row.units,
				    r.batch_id = $batch_id
			`, map[string]any{
				"rows":     rowParams(rows[start:end]),
				"platform": batch.Platform,
				"dataset":  batch.Dataset,
				"batch_id": batch.ID.String(),
			}); err != nil {
				return nil, fmt.Errorf("upsert sku nodes: %w", err)
			}
		}
		return nil, nil
	})
	return err
}

// Purge removes every node the sink creates.
func (s *Neo4jSink) Purge(ctx context.Context) error {
	if s == nil || s.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	queries := []string{
		"MATCH (s:SKU) DETACH DELETE s",
		"MATCH (c:City) DETACH DELETE c",
		"MATCH (p:Platform) DETACH DELETE p",
	}
	for _, query := range queries {
		result, err := session.Run(ctx, query, nil)
		if err != nil {
			return err
		}
		if _, err := result.Consume(ctx); err != nil {
			return err
		}
	}
	return nil
}

// graphRows extracts one row per keyed record. Records with the same key and
// city collapse, summing units.
func graphRows(batch ingestion.Batch) []skuRow {
	type groupKey struct{ key, city string }
	index := make(map[groupKey]int)
	out := make([]skuRow, 0, len(batch.Records))
	for _, rec := range batch.Records {
		raw, ok := rec[batch.Key]
		if !ok || raw == nil {
			continue
		}
		key := strings.TrimSpace(fmt.Sprint(raw))
		if key == "" {
			continue
		}
		city := strings.TrimSpace(rec.String(fieldCity))
		gk := groupKey{key, city}
		if i, ok := index[gk]; ok {
			out[i].units += rec.Number(fieldUnits)
			continue
		}
		index[gk] = len(out)
		out = append(out, skuRow{
			key:   key,
			name:  rec.String(fieldSKUName),
			brand: rec.String(fieldBrand),
			city:  city,
			units: rec.Number(fieldUnits),
		})
	}
	return out
}

func rowParams(rows []skuRow) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = map[string]any{
			"key":   r.key,
			"name":  r.name,
			"brand": r.brand,
			"city":  r.city,
			"units": r.units,
		}
	}
	return out
}
