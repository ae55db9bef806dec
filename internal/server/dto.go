package server

import (
	"time"

	"formtrack/internal/domain"
	"formtrack/internal/overview"
	"formtrack/internal/report"
)

// Request payloads

type CreateTrainerRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	Municipality string `json:"municipality,omitempty"`
}

type UpdateTrainerRequest struct {
	Active *bool `json:"active,omitempty"`
}

type CreateProjectRequest struct {
	Municipality string `json:"municipality"`
	Region       string `json:"region,omitempty"`
}

type UpdateMilestoneRequest struct {
	StartDate *string `json:"start_date,omitempty" format:"date-time"`
	EndDate   *string `json:"end_date,omitempty" format:"date-time"`
	Completed *bool   `json:"completed,omitempty"`
}

type CreateTrainingRequest struct {
	Title        string  `json:"title"`
	Municipality string  `json:"municipality,omitempty"`
	TrainerID    *string `json:"trainer_id,omitempty"`
	StartDate    *string `json:"start_date,omitempty" format:"date-time"`
	EndDate      *string `json:"end_date,omitempty" format:"date-time"`
}

type SetTrainingStatusRequest struct {
	Status string `json:"status" enum:"preparation,in_training,post_training,completed,archived"`
}

type CreateTaskRequest struct {
	Description   string  `json:"description"`
	Priority      string  `json:"priority,omitempty" enum:"normal,urgent"`
	DueDate       *string `json:"due_date,omitempty" format:"date-time"`
	ProjectID     *string `json:"project_id,omitempty"`
	TrainingID    *string `json:"training_id,omitempty"`
	ResponsibleID *string `json:"responsible_id,omitempty"`
}

type SetTaskStatusRequest struct {
	Status string `json:"status" enum:"pending,in_progress,done,awaiting_reply"`
}

type SubmitExpenseRequest struct {
	TrainerID   string  `json:"trainer_id"`
	TrainingID  *string `json:"training_id,omitempty"`
	AmountCents int64   `json:"amount_cents"`
	Description string  `json:"description,omitempty"`
}

type ReviewExpenseRequest struct {
	Status string `json:"status" enum:"approved,rejected,reimbursed"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type SetTrainingStatusResponse struct {
	Training domain.Training `json:"training"`
	Task     *domain.Task    `json:"task,omitempty"`
}

type ProjectViewResponse struct {
	domain.Project
	Completion   float64 `json:"completion"`
	NextName     string  `json:"next_milestone,omitempty"`
	NextDate     string  `json:"next_milestone_date,omitempty" format:"date-time"`
	TaskCount    int     `json:"task_count"`
	UrgentCount  int     `json:"urgent_count"`
	OverdueCount int     `json:"overdue_count"`
}

func projectViewResponse(v overview.ProjectView) ProjectViewResponse {
	res := ProjectViewResponse{
		Project:      v.Project,
		Completion:   v.Completion,
		TaskCount:    v.TaskCount,
		UrgentCount:  v.UrgentCount,
		OverdueCount: v.OverdueCount,
	}
	if v.Next != nil {
		res.NextName = v.Next.Name
		res.NextDate = v.Next.Date.Format(time.RFC3339)
	}
	return res
}

func mapProjectViews(views []overview.ProjectView) []ProjectViewResponse {
	res := make([]ProjectViewResponse, 0, len(views))
	for _, v := range views {
		res = append(res, projectViewResponse(v))
	}
	return res
}

type CriticalTasksResponse struct {
	Urgent  []domain.Task `json:"urgent"`
	Overdue []domain.Task `json:"overdue"`
}

type ScheduleEntryResponse struct {
	Kind     string `json:"kind" enum:"training-start,project-milestone"`
	Date     string `json:"date" format:"date-time"`
	Label    string `json:"label"`
	EntityID string `json:"entity_id"`
}

func mapScheduleEntries(entries []overview.ScheduleEntry) []ScheduleEntryResponse {
	res := make([]ScheduleEntryResponse, 0, len(entries))
	for _, e := range entries {
		res = append(res, ScheduleEntryResponse{
			Kind:     string(e.Kind),
			Date:     e.Date.Format(time.RFC3339),
			Label:    e.Label,
			EntityID: e.EntityID,
		})
	}
	return res
}

type YearGroupResponse struct {
	Year     int                   `json:"year"`
	Projects []ProjectViewResponse `json:"projects"`
}

func mapYearGroups(groups []report.YearGroup) []YearGroupResponse {
	res := make([]YearGroupResponse, 0, len(groups))
	for _, g := range groups {
		res = append(res, YearGroupResponse{Year: g.Year, Projects: mapProjectViews(g.Projects)})
	}
	return res
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	// Key is only returned on creation; it is never stored in clear.
	Key string `json:"key,omitempty"`
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt}
}
