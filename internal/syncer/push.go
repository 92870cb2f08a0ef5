package syncer

import (
	"context"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/studysync/internal/api"
	"github.com/MarcoPoloResearchLab/studysync/internal/database"
	"github.com/MarcoPoloResearchLab/studysync/internal/models"
	"go.uber.org/zap"
)

const markSyncedChunkSize = 500

// pushLocalChanges pushes each table independently; a failing table is
// recorded and skipped.
func (m *Manager) pushLocalChanges(ctx context.Context, deviceID string, report *Report) {
	for _, spec := range models.PushTables() {
		pushed, err := m.pushTable(ctx, spec, deviceID)
		if err != nil {
			report.PushErrors[spec.Name] = err
			m.logger.Warn("push failed",
				zap.String("table", spec.Name),
				zap.String("device_id", deviceID),
				zap.Error(err))
			continue
		}
		if pushed > 0 {
			report.Pushed[spec.Name] = pushed
		}
	}
}

func (m *Manager) pushTable(ctx context.Context, spec models.TableSpec, deviceID string) (int, error) {
	rows, err := m.store.SelectAll(ctx,
		"SELECT * FROM "+database.QuoteIdent(spec.Name)+" WHERE needs_sync = 1 AND is_synced = 0 ORDER BY updated_at, id")
	if err != nil {
		return 0, fmt.Errorf("select pending rows: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	records := make([]api.Record, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, wireRecord(spec, row))
		ids = append(ids, row.String("id"))
	}

	pushCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	_, err = m.client.Push(pushCtx, spec.Name, records, deviceID)
	cancel()
	if err != nil {
		return 0, err
	}

	if err := m.markSynced(ctx, spec.Name, ids); err != nil {
		return 0, fmt.Errorf("mark pushed rows synced: %w", err)
	}
	m.logger.Debug("pushed table",
		zap.String("table", spec.Name),
		zap.Int("records", len(records)))
	return len(records), nil
}

// wireRecord strips the sync flags and restores structured column values.
func wireRecord(spec models.TableSpec, row database.Row) api.Record {
	record := make(api.Record, len(row))
	for column, value := range row {
		if column == "is_synced" || column == "needs_sync" {
			continue
		}
		record[column] = value
	}
	spec.DecodeJSONColumns(record)
	spec.DecodeBoolColumns(record)
	return record
}

func (m *Manager) markSynced(ctx context.Context, table string, ids []string) error {
	return m.store.Transaction(ctx, func(tx *database.Store) error {
		for start := 0; start < len(ids); start += markSyncedChunkSize {
			end := start + markSyncedChunkSize
			if end > len(ids) {
				end = len(ids)
			}
			chunk := ids[start:end]
			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")
			args := make([]any, len(chunk))
			for index, id := range chunk {
				args[index] = id
			}
			statement := "UPDATE " + database.QuoteIdent(table) +
				" SET is_synced = 1, needs_sync = 0 WHERE id IN (" + placeholders + ")"
			if _, err := tx.Execute(ctx, statement, args...); err != nil {
				return err
			}
		}
		return nil
	})
}
