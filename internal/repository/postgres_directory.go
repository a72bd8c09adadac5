package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"wisefido-alerting/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresDirectoryRepository 接收人计算所需的人员 / 住户关系数据
// 只读：users、resident_caregivers、units、residents、resident_contacts
type PostgresDirectoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresDirectoryRepository 创建目录仓库
func NewPostgresDirectoryRepository(db *sql.DB, logger *zap.Logger) *PostgresDirectoryRepository {
	return &PostgresDirectoryRepository{
		db:     db,
		logger: logger,
	}
}

const staffColumns = `
			user_id::text,
			tenant_id::text,
			role,
			COALESCE(status, 'active'),
			alarm_scope,
			tags::text,
			alarm_levels,
			alarm_channels`

func scanStaff(row rowScanner) (*models.StaffMember, error) {
	var s models.StaffMember
	var alarmScope, tags sql.NullString
	var alarmLevels, alarmChannels pq.StringArray

	if err := row.Scan(
		&s.UserID,
		&s.TenantID,
		&s.Role,
		&s.Status,
		&alarmScope,
		&tags,
		&alarmLevels,
		&alarmChannels,
	); err != nil {
		return nil, err
	}

	if alarmScope.Valid {
		s.AlertScope = models.AlertScope(alarmScope.String)
	}
	s.Tags = parseJSONStrings(tags)
	for _, l := range alarmLevels {
		s.AlarmLevels = append(s.AlarmLevels, models.DangerLevel(l))
	}
	for _, c := range alarmChannels {
		s.AlarmChannels = append(s.AlarmChannels, models.Channel(c))
	}
	return &s, nil
}

// parseJSONStrings 解析 JSONB 字符串数组，无法解析时返回 nil
func parseJSONStrings(v sql.NullString) []string {
	if !v.Valid || v.String == "" || v.String == "null" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil
	}
	return out
}

// ListStaff 租户下所有人员
func (r *PostgresDirectoryRepository) ListStaff(ctx context.Context, tenantID string) ([]models.StaffMember, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `SELECT ` + staffColumns + `
		FROM users
		WHERE tenant_id = $1
		ORDER BY user_id
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list staff: %w", err)
	}
	defer rows.Close()

	staff := []models.StaffMember{}
	for rows.Next() {
		s, err := scanStaff(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan staff: %w", err)
		}
		staff = append(staff, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate staff: %w", err)
	}
	return staff, nil
}

// GetStaff 不存在返回 nil, nil
func (r *PostgresDirectoryRepository) GetStaff(ctx context.Context, tenantID, userID string) (*models.StaffMember, error) {
	if tenantID == "" || userID == "" {
		return nil, fmt.Errorf("tenant_id and user_id are required")
	}

	query := `SELECT ` + staffColumns + `
		FROM users
		WHERE tenant_id = $1 AND user_id::text = $2
	`
	s, err := scanStaff(r.db.QueryRowContext(ctx, query, tenantID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get staff: %w", err)
	}
	return s, nil
}

// GetCaregiverAssignments 住户直接绑定和所在单元绑定的用户（userList）
func (r *PostgresDirectoryRepository) GetCaregiverAssignments(ctx context.Context, tenantID, subjectID string) ([]string, error) {
	query := `
		SELECT rc.userList::text
		FROM resident_caregivers rc
		WHERE rc.tenant_id = $1
		  AND rc.resident_id::text = $2
		  AND rc.userList IS NOT NULL
		UNION ALL
		SELECT u.userList::text
		FROM residents r
		JOIN units u ON u.tenant_id = r.tenant_id AND u.unit_id = r.unit_id
		WHERE r.tenant_id = $1
		  AND r.resident_id::text = $2
		  AND u.userList IS NOT NULL
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get caregiver assignments: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	userIDs := []string{}
	for rows.Next() {
		var userList sql.NullString
		if err := rows.Scan(&userList); err != nil {
			return nil, fmt.Errorf("failed to scan caregiver assignment: %w", err)
		}
		for _, id := range parseJSONStrings(userList) {
			if !seen[id] {
				seen[id] = true
				userIDs = append(userIDs, id)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate caregiver assignments: %w", err)
	}
	return userIDs, nil
}

// GetLocationTag 住户所在单元（或设备绑定房间所在单元）的区域标签
func (r *PostgresDirectoryRepository) GetLocationTag(ctx context.Context, tenantID, subjectID string) (string, error) {
	query := `
		SELECT COALESCE(u.area_tag, u.branch_tag, '')
		FROM units u
		WHERE u.tenant_id = $1
		  AND u.unit_id = COALESCE(
			(SELECT r.unit_id FROM residents r WHERE r.tenant_id = $1 AND r.resident_id::text = $2),
			(SELECT rm.unit_id FROM devices d JOIN rooms rm ON rm.room_id = d.bound_room_id
			  WHERE d.tenant_id = $1 AND d.device_id::text = $2)
		  )
	`
	var tag string
	err := r.db.QueryRowContext(ctx, query, tenantID, subjectID).Scan(&tag)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get location tag: %w", err)
	}
	return tag, nil
}

// GetUserTags 用户标签（users.tags JSONB）
func (r *PostgresDirectoryRepository) GetUserTags(ctx context.Context, tenantID, userID string) ([]string, error) {
	var tags sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT tags::text FROM users WHERE tenant_id = $1 AND user_id::text = $2`,
		tenantID, userID,
	).Scan(&tags)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user tags: %w", err)
	}
	return parseJSONStrings(tags), nil
}

// GetContactLinks 住户联系人
// receive_sms / receive_email 任一开启即可接收报警，家属 App 总是推送
func (r *PostgresDirectoryRepository) GetContactLinks(ctx context.Context, tenantID, subjectID string) ([]models.ContactLink, error) {
	query := `
		SELECT
			contact_id::text,
			resident_id::text,
			is_enabled,
			COALESCE(receive_sms, false),
			COALESCE(receive_email, false)
		FROM resident_contacts
		WHERE tenant_id = $1 AND resident_id::text = $2
		ORDER BY slot
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get resident contacts: %w", err)
	}
	defer rows.Close()

	links := []models.ContactLink{}
	for rows.Next() {
		var link models.ContactLink
		var receiveSMS, receiveEmail bool
		if err := rows.Scan(&link.ContactID, &link.SubjectID, &link.IsActive, &receiveSMS, &receiveEmail); err != nil {
			return nil, fmt.Errorf("failed to scan resident contact: %w", err)
		}
		link.CanReceiveAlert = receiveSMS || receiveEmail
		link.Channels = []models.Channel{models.ChannelApp}
		if receiveSMS {
			link.Channels = append(link.Channels, models.ChannelSMS)
		}
		if receiveEmail {
			link.Channels = append(link.Channels, models.ChannelEmail)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate resident contacts: %w", err)
	}
	return links, nil
}
