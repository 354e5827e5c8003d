// Package dashboard aggregates facility-level program metrics and refreshes
// the reporting views behind them.
package dashboard

import (
	"time"

	"github.com/google/uuid"
)

// Windows used by the live dashboard.
const (
	RecentEncounterDays = 7
	UpcomingTaskDays    = 7
	UpcomingTaskLimit   = 10
	EnrollmentMonths    = 12
)

type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type MonthCount struct {
	Month time.Time `json:"month"`
	Count int       `json:"count"`
}

type TaskCounts struct {
	Overdue  int `json:"overdue"`
	DueToday int `json:"due_today"`
	Critical int `json:"critical"`
}

type UpcomingTask struct {
	ID         uuid.UUID  `json:"id"`
	Type       string     `json:"type"`
	Title      string     `json:"title"`
	DueDate    time.Time  `json:"due_date"`
	Priority   string     `json:"priority"`
	ClientID   *uuid.UUID `json:"client_id,omitempty"`
	ClientCode *string    `json:"client_code,omitempty"`
	ClientName *string    `json:"client_name,omitempty"`
}

type Overview struct {
	TotalClients      int `json:"total_clients"`
	RecentEnrollments int `json:"recent_enrollments"`
	RecentEncounters  int `json:"recent_encounters"`
	PendingLabs       int `json:"pending_labs"`
}

type Tasks struct {
	TaskCounts
	Upcoming []UpcomingTask `json:"upcoming"`
}

type Trends struct {
	EnrollmentsByMonth []MonthCount `json:"enrollments_by_month"`
	ViralLoadStatus    []Count      `json:"viral_load_status"`
}

// Dashboard is the live view for one facility, or the whole program when
// FacilityID is nil.
type Dashboard struct {
	FacilityID        *uuid.UUID `json:"facility_id,omitempty"`
	Overview          Overview   `json:"overview"`
	ClientsByStatus   []Count    `json:"clients_by_status"`
	ActivePrescribing []Count    `json:"active_prescriptions_by_category"`
	Tasks             Tasks      `json:"tasks"`
	Trends            Trends     `json:"trends"`
	GeneratedAt       time.Time  `json:"generated_at"`
}

type FacilityCount struct {
	FacilityID uuid.UUID `json:"facility_id"`
	Key        string    `json:"key"`
	Total      int       `json:"total"`
}

type FacilityMonth struct {
	FacilityID uuid.UUID `json:"facility_id"`
	Month      time.Time `json:"month"`
	Total      int       `json:"total"`
}

type TaskSummary struct {
	FacilityID uuid.UUID `json:"facility_id"`
	Type       string    `json:"type"`
	Status     string    `json:"status"`
	Total      int       `json:"total"`
	Overdue    int       `json:"overdue"`
}

type FacilityMetric struct {
	FacilityID        uuid.UUID `json:"facility_id"`
	Name              string    `json:"name"`
	TotalClients      int       `json:"total_clients"`
	ActiveClients     int       `json:"active_clients"`
	SuppressedClients int       `json:"suppressed_clients"`
}

// Metrics is what the refresh job reports after rebuilding the views.
type Metrics struct {
	EnrollmentTrends []FacilityMonth  `json:"enrollment_trends"`
	StatusCounts     []FacilityCount  `json:"status_counts"`
	TaskSummary      []TaskSummary    `json:"task_summary"`
	FacilityMetrics  []FacilityMetric `json:"facility_metrics"`
	RecentActivity   []Count          `json:"recent_activity"`
	CriticalTasks    int              `json:"critical_tasks_count"`
}
