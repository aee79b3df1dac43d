package service

import (
	"context"
	"strings"

	"codecrew/internal/metrics"

	"github.com/rs/zerolog/log"
)

// ProjectService 封装项目房间相关的业务逻辑：准入、离开与在线人数。
type ProjectService struct {
	projects ProjectStore
	presence Presence
	notifier Notifier
}

func NewProjectService(projects ProjectStore, p Presence, notifier Notifier) *ProjectService {
	return &ProjectService{projects: projects, presence: p, notifier: notifier}
}

// ProjectDTO 是对外输出的项目数据。
type ProjectDTO struct {
	ID       uint   `json:"id"`
	Name     string `json:"name"`
	LeaderID uint   `json:"leader_id"`
	Online   int    `json:"online"`
}

// Create 创建新项目，创建者即负责人和首个成员。
func (s *ProjectService) Create(ctx context.Context, name, description string, leaderID uint) (*ProjectDTO, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 128 {
		return nil, validation("invalid project name")
	}
	p, err := s.projects.Create(ctx, name, strings.TrimSpace(description), leaderID)
	if err != nil {
		return nil, persistence("create project", err)
	}
	return &ProjectDTO{ID: p.ID, Name: p.Name, LeaderID: p.LeaderID, Online: 0}, nil
}

// ListForUser 返回用户所属的项目，附带各房间的在线人数。
func (s *ProjectService) ListForUser(ctx context.Context, userID uint) ([]ProjectDTO, error) {
	ps, err := s.projects.ListForUser(ctx, userID)
	if err != nil {
		return nil, persistence("list projects", err)
	}
	out := make([]ProjectDTO, 0, len(ps))
	for _, p := range ps {
		out = append(out, ProjectDTO{ID: p.ID, Name: p.Name, LeaderID: p.LeaderID, Online: s.presence.Online(p.ID)})
	}
	return out, nil
}

// AddMember 由负责人把用户加入项目，并通知被加入的用户。
func (s *ProjectService) AddMember(ctx context.Context, projectID, actorID, userID uint) error {
	project, err := s.projects.GetProject(ctx, projectID)
	if err != nil {
		return persistence("load project", err)
	}
	if project == nil {
		return ErrProjectNotFound
	}
	if project.LeaderID != actorID {
		return ErrForbidden
	}
	if _, ok := project.Member(userID); ok {
		return validation("already a member")
	}
	if err := s.projects.AddMember(ctx, projectID, userID); err != nil {
		return persistence("add member", err)
	}
	if _, err := s.notifier.Notify(context.WithoutCancel(ctx), userID, CategoryJoinApproved, "You were added to "+project.Name, map[string]any{"projectId": project.ID}); err != nil {
		log.Error().Err(err).Uint("project_id", projectID).Uint("user_id", userID).Msg("join approved notification")
	}
	return nil
}

// Join 校验权威成员关系后把用户加入房间的在线集合，返回加入后的在线人数。
func (s *ProjectService) Join(ctx context.Context, projectID, userID uint) (int, error) {
	if err := requireMember(ctx, s.projects, projectID, userID); err != nil {
		return 0, err
	}
	if s.presence.Join(projectID, userID) {
		metrics.PresentUsers.Inc()
	}
	return s.presence.Online(projectID), nil
}

// Leave 把用户移出房间的在线集合，不需要成员校验。
func (s *ProjectService) Leave(projectID, userID uint) int {
	if s.presence.Leave(projectID, userID) {
		metrics.PresentUsers.Dec()
	}
	return s.presence.Online(projectID)
}
