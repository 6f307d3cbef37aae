package models

import (
	"strings"
	"time"
)

// Complaint lifecycle states.
const (
	StatusSubmitted  = "submitted"
	StatusInProgress = "in-progress"
	StatusResolved   = "resolved"
	StatusClosed     = "closed"
)

// Complaint priorities. An empty priority is treated as medium.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Complaint is a citizen-submitted civic issue.
type Complaint struct {
	ID              string     `json:"id" firestore:"-" dynamodbav:"id"`
	UserID          string     `json:"userId" firestore:"userId" dynamodbav:"userId"`
	Category        string     `json:"category" firestore:"category" dynamodbav:"category"`
	Description     string     `json:"description" firestore:"description" dynamodbav:"description"`
	City            string     `json:"city,omitempty" firestore:"city,omitempty" dynamodbav:"city,omitempty"`
	Location        string     `json:"location,omitempty" firestore:"location,omitempty" dynamodbav:"location,omitempty"`
	Priority        string     `json:"priority" firestore:"priority" dynamodbav:"priority"`
	Status          string     `json:"status" firestore:"status" dynamodbav:"status"`
	AssignedTo      string     `json:"assignedTo,omitempty" firestore:"assignedTo,omitempty" dynamodbav:"assignedTo,omitempty"`
	Department      string     `json:"department,omitempty" firestore:"department,omitempty" dynamodbav:"department,omitempty"`
	ResolutionImage string     `json:"resolutionImage,omitempty" firestore:"resolutionImage,omitempty" dynamodbav:"resolutionImage,omitempty"`
	ResolutionNotes string     `json:"resolutionNotes,omitempty" firestore:"resolutionNotes,omitempty" dynamodbav:"resolutionNotes,omitempty"`
	CreatedAt       time.Time  `json:"createdAt" firestore:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt" firestore:"updatedAt" dynamodbav:"updatedAt"`
	UpdatedBy       string     `json:"updatedBy,omitempty" firestore:"updatedBy,omitempty" dynamodbav:"updatedBy,omitempty"`
	EscalatedAt     *time.Time `json:"escalatedAt,omitempty" firestore:"escalatedAt,omitempty" dynamodbav:"escalatedAt,omitempty"`
}

// IsOpen reports whether the complaint still awaits resolution.
func (c *Complaint) IsOpen() bool {
	return c.Status == StatusSubmitted || c.Status == StatusInProgress
}

// ValidStatus reports whether s is one of the lifecycle states.
func ValidStatus(s string) bool {
	switch s {
	case StatusSubmitted, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// NormalizePriority lower-cases p and maps unknown values to medium.
func NormalizePriority(p string) string {
	switch p = strings.ToLower(strings.TrimSpace(p)); p {
	case PriorityHigh, PriorityLow:
		return p
	}
	return PriorityMedium
}

// StatusHistory is one append-only record of a status change.
type StatusHistory struct {
	ID             string    `json:"id" firestore:"-" dynamodbav:"id"`
	ComplaintID    string    `json:"complaintId" firestore:"complaintId" dynamodbav:"complaintId"`
	PreviousStatus string    `json:"previousStatus" firestore:"previousStatus" dynamodbav:"previousStatus"`
	NewStatus      string    `json:"newStatus" firestore:"newStatus" dynamodbav:"newStatus"`
	UpdatedBy      string    `json:"updatedBy" firestore:"updatedBy" dynamodbav:"updatedBy"`
	Timestamp      time.Time `json:"timestamp" firestore:"timestamp" dynamodbav:"timestamp"`
	Notes          string    `json:"notes,omitempty" firestore:"notes,omitempty" dynamodbav:"notes,omitempty"`
}

// ComplaintFilter narrows complaint listings. Zero values match everything.
type ComplaintFilter struct {
	Statuses   []string
	Department string
	UserID     string
	Limit      int
}

// CreateComplaintRequest is the body of POST /complaints.
type CreateComplaintRequest struct {
	Category    string `json:"category" binding:"required"`
	Description string `json:"description" binding:"required"`
	City        string `json:"city"`
	Location    string `json:"location"`
	Priority    string `json:"priority" binding:"omitempty,oneof=high medium low"`
}

// UpdateStatusRequest is the body of PATCH /complaints/:id/status.
type UpdateStatusRequest struct {
	Status          string `json:"status" binding:"omitempty,complaintstatus"`
	AssignedTo      string `json:"assignedTo"`
	Department      string `json:"department"`
	ResolutionNotes string `json:"resolutionNotes"`
	ResolutionImage string `json:"resolutionImage"`
	Notes           string `json:"notes"`
}

// SLAStatus is the SLA view of a single complaint.
type SLAStatus struct {
	ComplaintID      string     `json:"complaintId"`
	Policy           string     `json:"policy"`
	Breached         bool       `json:"breached"`
	SecondsRemaining int64      `json:"secondsRemaining"`
	Deadline         time.Time  `json:"deadline"`
	EscalatedAt      *time.Time `json:"escalatedAt,omitempty"`
}
