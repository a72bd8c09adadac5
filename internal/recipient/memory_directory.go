package recipient

import (
	"context"
	"sync"

	"wisefido-alerting/internal/models"
)

// MemoryDirectory 进程内目录数据（测试使用）
type MemoryDirectory struct {
	mu          sync.RWMutex
	staff       map[string][]models.StaffMember
	assignments map[string][]string
	locations   map[string]string
	contacts    map[string][]models.ContactLink
}

// NewMemoryDirectory 创建进程内目录
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		staff:       make(map[string][]models.StaffMember),
		assignments: make(map[string][]string),
		locations:   make(map[string]string),
		contacts:    make(map[string][]models.ContactLink),
	}
}

func dirKey(tenantID, id string) string { return tenantID + "|" + id }

// AddStaff 添加人员
func (d *MemoryDirectory) AddStaff(s models.StaffMember) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.staff[s.TenantID] = append(d.staff[s.TenantID], s)
}

// Assign 设置对象的负责人
func (d *MemoryDirectory) Assign(tenantID, subjectID string, userIDs ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.assignments[dirKey(tenantID, subjectID)] = append(d.assignments[dirKey(tenantID, subjectID)], userIDs...)
}

// SetLocationTag 设置对象位置标签
func (d *MemoryDirectory) SetLocationTag(tenantID, subjectID, tag string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locations[dirKey(tenantID, subjectID)] = tag
}

// AddContact 添加联系人
func (d *MemoryDirectory) AddContact(tenantID string, link models.ContactLink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := dirKey(tenantID, link.SubjectID)
	d.contacts[k] = append(d.contacts[k], link)
}

func (d *MemoryDirectory) ListStaff(ctx context.Context, tenantID string) ([]models.StaffMember, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]models.StaffMember(nil), d.staff[tenantID]...), nil
}

func (d *MemoryDirectory) GetStaff(ctx context.Context, tenantID, userID string) (*models.StaffMember, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.staff[tenantID] {
		if s.UserID == userID {
			cp := s
			return &cp, nil
		}
	}
	return nil, nil
}

func (d *MemoryDirectory) GetCaregiverAssignments(ctx context.Context, tenantID, subjectID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.assignments[dirKey(tenantID, subjectID)]...), nil
}

func (d *MemoryDirectory) GetLocationTag(ctx context.Context, tenantID, subjectID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.locations[dirKey(tenantID, subjectID)], nil
}

func (d *MemoryDirectory) GetUserTags(ctx context.Context, tenantID, userID string) ([]string, error) {
	s, _ := d.GetStaff(ctx, tenantID, userID)
	if s == nil {
		return nil, nil
	}
	return s.Tags, nil
}

func (d *MemoryDirectory) GetContactLinks(ctx context.Context, tenantID, subjectID string) ([]models.ContactLink, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]models.ContactLink(nil), d.contacts[dirKey(tenantID, subjectID)]...), nil
}
