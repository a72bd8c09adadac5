package report

import (
	"bytes"
	"testing"
	"time"

	"wisefido-alerting/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestExportAlerts(t *testing.T) {
	created := time.Date(2024, 3, 4, 1, 0, 0, 0, time.UTC)
	resolvedAt := created.Add(10 * time.Minute)
	nurse := "nurse-1"
	note := "checked on resident"

	alerts := []*models.Alert{
		{
			ID:              "alert-1",
			TenantID:        "tenant-1",
			Subject:         models.SubjectRef{Type: models.SubjectResident, ID: "resident-1"},
			AlertType:       models.AlertTypeFall,
			Level:           models.LevelL1,
			Status:          models.StatusResolved,
			CreatedAt:       created,
			LastOccurredAt:  created,
			OccurrenceCount: 2,
			ResolvedBy:      &nurse,
			ResolvedAt:      &resolvedAt,
			ResolveNote:     &note,
			DeliveryFailures: []models.DeliveryFailure{
				{Channel: models.ChannelPhone, Error: "timeout", At: created},
			},
		},
		{
			ID:        "alert-2",
			Subject:   models.SubjectRef{Type: models.SubjectDevice, ID: "device-1"},
			DeviceID:  "device-1",
			AlertType: models.AlertTypeLowBattery,
			Level:     models.LevelL2,
			Status:    models.StatusPending,
			CreatedAt: created,
		},
	}

	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, ExportAlerts(&buf, alerts, loc))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetName}, f.GetSheetList())

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, AlertExportHeader, rows[0])

	first := rows[1]
	assert.Equal(t, "alert-1", first[0])
	assert.Equal(t, "resident", first[1])
	assert.Equal(t, "L1", first[5])
	assert.Equal(t, "Resolved", first[6])
	assert.Equal(t, "2024-03-04 09:00:00", first[7])
	assert.Equal(t, "2", first[9])
	assert.Equal(t, "nurse-1", first[13])
	assert.Equal(t, "2024-03-04 09:10:00", first[14])
	assert.Equal(t, "checked on resident", first[15])
	assert.Equal(t, "1", first[16])

	second := rows[2]
	assert.Equal(t, "device-1", second[3])
	assert.Equal(t, "Pending", second[6])
	assert.Equal(t, "", second[8])
}

func TestExportAlerts_HeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportAlerts(&buf, nil, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
