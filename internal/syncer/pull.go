package syncer

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/studysync/internal/api"
	"github.com/MarcoPoloResearchLab/studysync/internal/database"
	"github.com/MarcoPoloResearchLab/studysync/internal/models"
	"go.uber.org/zap"
)

// pullServerUpdates applies every pulled row and the new watermark in one
// transaction. Pulled rows always win over local state; replaced pending rows
// are counted and logged. On failure the previous watermark is kept.
func (m *Manager) pullServerUpdates(ctx context.Context, deviceID string, report *Report) {
	lastSync, err := m.lastSync(ctx)
	if err != nil {
		m.failPull(report, deviceID, fmt.Errorf("read watermark: %w", err))
		return
	}

	cacheTables := models.CacheTables()
	tableNames := make([]string, 0, len(cacheTables))
	for _, spec := range cacheTables {
		tableNames = append(tableNames, spec.Name)
	}

	pullCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	response, err := m.client.Pull(pullCtx, api.PullRequest{
		DeviceID: deviceID,
		LastSync: lastSync,
		Tables:   tableNames,
	})
	cancel()
	if err != nil {
		m.failPull(report, deviceID, err)
		return
	}

	pulled := make(map[string]int)
	overwritten := 0
	err = m.store.Transaction(ctx, func(tx *database.Store) error {
		for _, spec := range cacheTables {
			for _, record := range response.Data.Tables[spec.Name] {
				replacedPending, err := tx.UpsertSynced(ctx, spec.Name, record)
				if err != nil {
					return err
				}
				if replacedPending {
					overwritten++
					m.logger.Warn("pull overwrote unpushed local edit",
						zap.String("table", spec.Name),
						zap.String("record_id", fmt.Sprint(record["id"])),
						zap.String("device_id", deviceID))
				}
				pulled[spec.Name]++
			}
		}

		var pendingTotal int64
		for _, spec := range models.PushTables() {
			count, err := pendingCount(ctx, tx, spec.Name)
			if err != nil {
				return err
			}
			pendingTotal += count
		}

		watermark := lastSync
		if response.Data.LastSync != "" {
			value := response.Data.LastSync
			watermark = &value
		}
		var lastError *string
		if summary := report.pushErrorSummary(); summary != "" {
			lastError = &summary
		}
		_, err := tx.Execute(ctx,
			"INSERT OR REPLACE INTO sync_status (table_name, last_sync, last_pull, pending_push_count, last_error) VALUES (?, ?, ?, ?, ?)",
			models.GlobalSyncScope, watermark, m.clock().UTC().Unix(), pendingTotal, lastError)
		return err
	})
	if err != nil {
		m.failPull(report, deviceID, fmt.Errorf("apply pulled rows: %w", err))
		return
	}

	report.Pulled = pulled
	report.OverwrittenPending = overwritten
}

func (m *Manager) lastSync(ctx context.Context) (*string, error) {
	row, err := m.store.SelectFirst(ctx,
		"SELECT last_sync FROM sync_status WHERE table_name = ?", models.GlobalSyncScope)
	if err != nil {
		return nil, err
	}
	if row == nil || row["last_sync"] == nil {
		return nil, nil
	}
	value := row.String("last_sync")
	return &value, nil
}

func (m *Manager) failPull(report *Report, deviceID string, err error) {
	report.PullErr = err
	m.logger.Warn("pull failed",
		zap.String("device_id", deviceID),
		zap.Error(err))
}
