package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"wisefido-alerting/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresAlertRepository 报警仓库（alert_events 表）
// 报警只做逻辑关闭，不物理删除
type PostgresAlertRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresAlertRepository 创建报警仓库
func NewPostgresAlertRepository(db *sql.DB, logger *zap.Logger) *PostgresAlertRepository {
	return &PostgresAlertRepository{
		db:     db,
		logger: logger,
	}
}

const alertColumns = `
			alert_id,
			tenant_id,
			subject_type,
			subject_id,
			device_id,
			alert_type,
			alarm_level,
			status,
			created_at,
			updated_at,
			last_occurred_at,
			acknowledged_by,
			acknowledged_at,
			resolved_by,
			resolved_at,
			resolve_note,
			escalation_count,
			occurrence_count,
			last_dispatch_at,
			channel_dispatch_at,
			delivery_failures,
			policy_version,
			trigger_data,
			version`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanAlert 按 alertColumns 的顺序读取一行
func scanAlert(row rowScanner) (*models.Alert, error) {
	var a models.Alert
	var deviceID, acknowledgedBy, resolvedBy, resolveNote sql.NullString
	var acknowledgedAt, resolvedAt, lastDispatchAt sql.NullTime
	var channelDispatchAt, deliveryFailures, triggerData []byte

	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.Subject.Type,
		&a.Subject.ID,
		&deviceID,
		&a.AlertType,
		&a.Level,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.LastOccurredAt,
		&acknowledgedBy,
		&acknowledgedAt,
		&resolvedBy,
		&resolvedAt,
		&resolveNote,
		&a.EscalationCount,
		&a.OccurrenceCount,
		&lastDispatchAt,
		&channelDispatchAt,
		&deliveryFailures,
		&a.PolicyVersion,
		&triggerData,
		&a.Version,
	)
	if err != nil {
		return nil, err
	}

	// 处理可空字段
	a.DeviceID = deviceID.String
	if acknowledgedBy.Valid {
		a.AcknowledgedBy = &acknowledgedBy.String
	}
	if acknowledgedAt.Valid {
		a.AcknowledgedAt = &acknowledgedAt.Time
	}
	if resolvedBy.Valid {
		a.ResolvedBy = &resolvedBy.String
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	if resolveNote.Valid {
		a.ResolveNote = &resolveNote.String
	}
	if lastDispatchAt.Valid {
		a.LastDispatchAt = &lastDispatchAt.Time
	}

	// 处理 JSONB 字段
	if len(channelDispatchAt) > 0 {
		if err := json.Unmarshal(channelDispatchAt, &a.ChannelDispatchAt); err != nil {
			return nil, fmt.Errorf("failed to unmarshal channel_dispatch_at: %w", err)
		}
	}
	if len(deliveryFailures) > 0 {
		if err := json.Unmarshal(deliveryFailures, &a.DeliveryFailures); err != nil {
			return nil, fmt.Errorf("failed to unmarshal delivery_failures: %w", err)
		}
	}
	if len(triggerData) > 0 {
		a.TriggerData = json.RawMessage(triggerData)
	}
	return &a, nil
}

// jsonbArgs channel_dispatch_at / delivery_failures / trigger_data
func jsonbArgs(a *models.Alert) (string, string, string, error) {
	dispatchAt := a.ChannelDispatchAt
	if dispatchAt == nil {
		dispatchAt = map[models.Channel]time.Time{}
	}
	dispatchJSON, err := json.Marshal(dispatchAt)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal channel_dispatch_at: %w", err)
	}
	failures := a.DeliveryFailures
	if failures == nil {
		failures = []models.DeliveryFailure{}
	}
	failuresJSON, err := json.Marshal(failures)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal delivery_failures: %w", err)
	}
	trigger := "{}"
	if len(a.TriggerData) > 0 {
		trigger = string(a.TriggerData)
	}
	return string(dispatchJSON), string(failuresJSON), trigger, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// CreateAlert 写入新报警
func (r *PostgresAlertRepository) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if alert == nil {
		return fmt.Errorf("alert is required")
	}
	if alert.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if alert.ID == "" {
		return fmt.Errorf("alert_id is required")
	}

	dispatchAt, failures, trigger, err := jsonbArgs(alert)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO alert_events (` + alertColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20::jsonb, $21::jsonb, $22, $23::jsonb, 1
		)
	`
	_, err = r.db.ExecContext(ctx, query,
		alert.ID,
		alert.TenantID,
		string(alert.Subject.Type),
		alert.Subject.ID,
		nullString(alert.DeviceID),
		alert.AlertType,
		string(alert.Level),
		string(alert.Status),
		alert.CreatedAt,
		alert.UpdatedAt,
		alert.LastOccurredAt,
		alert.AcknowledgedBy,
		alert.AcknowledgedAt,
		alert.ResolvedBy,
		alert.ResolvedAt,
		alert.ResolveNote,
		alert.EscalationCount,
		alert.OccurrenceCount,
		alert.LastDispatchAt,
		dispatchAt,
		failures,
		alert.PolicyVersion,
		trigger,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	alert.Version = 1
	return nil
}

// UpdateAlert 乐观锁更新：version 不匹配时返回 models.ErrConcurrentUpdate
func (r *PostgresAlertRepository) UpdateAlert(ctx context.Context, alert *models.Alert) error {
	if alert == nil || alert.ID == "" {
		return fmt.Errorf("alert_id is required")
	}

	dispatchAt, failures, trigger, err := jsonbArgs(alert)
	if err != nil {
		return err
	}

	query := `
		UPDATE alert_events
		SET alarm_level = $1,
		    status = $2,
		    updated_at = $3,
		    last_occurred_at = $4,
		    acknowledged_by = $5,
		    acknowledged_at = $6,
		    resolved_by = $7,
		    resolved_at = $8,
		    resolve_note = $9,
		    escalation_count = $10,
		    occurrence_count = $11,
		    last_dispatch_at = $12,
		    channel_dispatch_at = $13::jsonb,
		    delivery_failures = $14::jsonb,
		    trigger_data = $15::jsonb,
		    version = version + 1
		WHERE alert_id = $16
		  AND version = $17
	`
	result, err := r.db.ExecContext(ctx, query,
		string(alert.Level),
		string(alert.Status),
		alert.UpdatedAt,
		alert.LastOccurredAt,
		alert.AcknowledgedBy,
		alert.AcknowledgedAt,
		alert.ResolvedBy,
		alert.ResolvedAt,
		alert.ResolveNote,
		alert.EscalationCount,
		alert.OccurrenceCount,
		alert.LastDispatchAt,
		dispatchAt,
		failures,
		trigger,
		alert.ID,
		alert.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var stored int
		err := r.db.QueryRowContext(ctx, `SELECT version FROM alert_events WHERE alert_id = $1`, alert.ID).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrAlertNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check alert version: %w", err)
		}
		return fmt.Errorf("%w: alert %s version %d, stored %d", models.ErrConcurrentUpdate, alert.ID, alert.Version, stored)
	}

	alert.Version++
	return nil
}

// GetAlert 根据 alert_id 获取报警
func (r *PostgresAlertRepository) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("alert_id is required")
	}
	query := `SELECT ` + alertColumns + `
		FROM alert_events
		WHERE alert_id = $1
	`
	a, err := scanAlert(r.db.QueryRowContext(ctx, query, alertID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

// FindOpenAlert 三元组下最近创建的未关闭报警
func (r *PostgresAlertRepository) FindOpenAlert(ctx context.Context, tenantID string, subject models.SubjectRef, alertType string) (*models.Alert, error) {
	open, err := r.listOpen(ctx, tenantID, subject, alertType, 1)
	if err != nil || len(open) == 0 {
		return nil, err
	}
	return open[0], nil
}

// ListOpenAlerts 三元组下所有未关闭报警（按创建时间倒序）
func (r *PostgresAlertRepository) ListOpenAlerts(ctx context.Context, tenantID string, subject models.SubjectRef, alertType string) ([]*models.Alert, error) {
	return r.listOpen(ctx, tenantID, subject, alertType, 0)
}

func (r *PostgresAlertRepository) listOpen(ctx context.Context, tenantID string, subject models.SubjectRef, alertType string, limit int) ([]*models.Alert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	query := `SELECT ` + alertColumns + `
		FROM alert_events
		WHERE tenant_id = $1
		  AND subject_type = $2
		  AND subject_id = $3
		  AND alert_type = $4
		  AND status IN ('Pending', 'Acknowledged')
		ORDER BY created_at DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return r.queryAlerts(ctx, query, tenantID, string(subject.Type), subject.ID, alertType)
}

// ListPendingAlerts 所有租户下 Pending 状态的报警（按创建时间正序）
func (r *PostgresAlertRepository) ListPendingAlerts(ctx context.Context) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + `
		FROM alert_events
		WHERE status = 'Pending'
		ORDER BY created_at ASC
	`
	return r.queryAlerts(ctx, query)
}

// buildWhereClause 构建 ListAlerts 的 WHERE 子句
func buildWhereClause(tenantID string, filters models.AlertFilters, args *[]interface{}, argN *int) []string {
	where := []string{fmt.Sprintf("tenant_id = $%d", *argN)}
	*args = append(*args, tenantID)
	*argN++

	if filters.SubjectID != nil {
		where = append(where, fmt.Sprintf("subject_id = $%d", *argN))
		*args = append(*args, *filters.SubjectID)
		*argN++
	}
	if filters.AlertType != nil {
		where = append(where, fmt.Sprintf("alert_type = $%d", *argN))
		*args = append(*args, *filters.AlertType)
		*argN++
	}
	if filters.Level != nil {
		where = append(where, fmt.Sprintf("alarm_level = $%d", *argN))
		*args = append(*args, *filters.Level)
		*argN++
	}
	if len(filters.Statuses) > 0 {
		statuses := make([]string, len(filters.Statuses))
		for i, s := range filters.Statuses {
			statuses[i] = string(s)
		}
		where = append(where, fmt.Sprintf("status = ANY($%d)", *argN))
		*args = append(*args, pq.Array(statuses))
		*argN++
	}
	if filters.StartTime != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", *argN))
		*args = append(*args, *filters.StartTime)
		*argN++
	}
	if filters.EndTime != nil {
		where = append(where, fmt.Sprintf("created_at <= $%d", *argN))
		*args = append(*args, *filters.EndTime)
		*argN++
	}
	return where
}

// ListAlerts 报警历史（分页，按创建时间倒序）
func (r *PostgresAlertRepository) ListAlerts(ctx context.Context, tenantID string, filters models.AlertFilters, page, size int) ([]*models.Alert, int, error) {
	if tenantID == "" {
		return nil, 0, fmt.Errorf("tenant_id is required")
	}
	page, size = normalizePage(page, size)

	args := []interface{}{}
	argN := 1
	where := buildWhereClause(tenantID, filters, &args, &argN)
	whereSQL := strings.Join(where, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM alert_events WHERE ` + whereSQL
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	if total == 0 {
		return []*models.Alert{}, 0, nil
	}

	query := fmt.Sprintf(`SELECT %s
		FROM alert_events
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, alertColumns, whereSQL, argN, argN+1)
	args = append(args, size, (page-1)*size)

	alerts, err := r.queryAlerts(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return alerts, total, nil
}

func (r *PostgresAlertRepository) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]*models.Alert, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*models.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return alerts, nil
}
