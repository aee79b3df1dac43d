// Package store holds the gorm repositories behind the service interfaces.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"codecrew/internal/models"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const loadTimeout = 5 * time.Second

// Projects 是项目与成员关系的仓储。
type Projects struct {
	db      *gorm.DB
	sfGroup singleflight.Group // 合并同一项目的并发读取
}

func NewProjects(db *gorm.DB) *Projects {
	return &Projects{db: db}
}

// GetProject 读取项目及其成员；项目不存在时返回 (nil, nil)。
//
// 同一项目的并发读取合并为一次查询。查询不继承任何单个调用方的取消，
// 每个调用方只在自己的 ctx 结束时提前返回。
func (r *Projects) GetProject(ctx context.Context, projectID uint) (*models.ProjectInfo, error) {
	ch := r.sfGroup.DoChan(strconv.FormatUint(uint64(projectID), 10), func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return r.loadProject(qctx, projectID)
	})
	var v any
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		v = res.Val
	}
	info, ok := v.(*models.ProjectInfo)
	if !ok || info == nil {
		return nil, nil
	}
	// singleflight 的结果被多个调用方共享，返回副本。
	cp := *info
	cp.Members = append([]models.Member(nil), info.Members...)
	return &cp, nil
}

func (r *Projects) loadProject(ctx context.Context, projectID uint) (*models.ProjectInfo, error) {
	var p models.Project
	err := r.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Select("id", "username").Order("id") }).
		First(&p, projectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	info := &models.ProjectInfo{ID: p.ID, Name: p.Name, LeaderID: p.LeaderID}
	for _, u := range p.Members {
		info.Members = append(info.Members, models.Member{ID: u.ID, Username: u.Username})
	}
	return info, nil
}

func (r *Projects) IsMember(ctx context.Context, projectID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Table("project_members").
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return count > 0, nil
}

func (r *Projects) Create(ctx context.Context, name, description string, leaderID uint) (*models.Project, error) {
	p := models.Project{
		Name:        name,
		Description: description,
		LeaderID:    leaderID,
		Members:     []models.User{{ID: leaderID}},
	}
	err := r.db.WithContext(ctx).Omit("Members.*").Create(&p).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return &p, nil
}

func (r *Projects) AddMember(ctx context.Context, projectID, userID uint) error {
	err := r.db.WithContext(ctx).Table("project_members").
		Create(map[string]any{"project_id": projectID, "user_id": userID}).Error
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// ListForUser 返回用户所属的项目，按 id 倒序。
func (r *Projects) ListForUser(ctx context.Context, userID uint) ([]models.Project, error) {
	var ps []models.Project
	err := r.db.WithContext(ctx).
		Joins("JOIN project_members pm ON pm.project_id = projects.id").
		Where("pm.user_id = ?", userID).
		Order("projects.id desc").
		Find(&ps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return ps, nil
}
