package models

import "time"

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Project 是权威的成员关系来源，房间 id 即项目 id。
type Project struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"size:128;not null"`
	Description string `gorm:"type:text"`
	LeaderID    uint   `gorm:"index;not null"`
	Members     []User `gorm:"many2many:project_members"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Message struct {
	ID        uint   `gorm:"primaryKey"`
	ProjectID uint   `gorm:"index:idx_msg_project_id;not null"`
	SenderID  uint   `gorm:"index;not null"`
	Content   string `gorm:"type:text;not null"`
	CreatedAt time.Time
}

type Notification struct {
	ID        uint           `gorm:"primaryKey"`
	UserID    uint           `gorm:"index:idx_notif_user;not null"`
	Type      string         `gorm:"size:32;not null"`
	Message   string         `gorm:"type:text;not null"`
	Metadata  map[string]any `gorm:"serializer:json;type:text"`
	IsRead    bool           `gorm:"not null;default:false"`
	CreatedAt time.Time
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}

// RevokedToken 记录登出后失效的 access token（按 jti），过期后可清理。
type RevokedToken struct {
	ID        uint      `gorm:"primaryKey"`
	JTI       string    `gorm:"uniqueIndex;size:64;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time
}

// Member 是项目成员的摘要。
type Member struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
}

// ProjectInfo 是实时层读取的项目快照：名称、负责人与权威成员列表。
type ProjectInfo struct {
	ID       uint
	Name     string
	LeaderID uint
	Members  []Member
}

func (p *ProjectInfo) MemberIDs() []uint {
	ids := make([]uint, 0, len(p.Members))
	for _, m := range p.Members {
		ids = append(ids, m.ID)
	}
	return ids
}

func (p *ProjectInfo) Member(userID uint) (Member, bool) {
	for _, m := range p.Members {
		if m.ID == userID {
			return m, true
		}
	}
	return Member{}, false
}
