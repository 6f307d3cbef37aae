package models

import (
	"sort"
	"strings"
)

// CivicIssue lists, for one city, the departments and the complaint
// categories each one handles.
type CivicIssue struct {
	City        string              `json:"city" firestore:"city" dynamodbav:"city"`
	Departments map[string][]string `json:"departments" firestore:"departments" dynamodbav:"departments"`
}

// CivicIssueID is the document key for city.
func CivicIssueID(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

// DepartmentFor returns the department handling category, or "". When several
// departments list the category the alphabetically first one wins.
func (ci *CivicIssue) DepartmentFor(category string) string {
	depts := make([]string, 0, len(ci.Departments))
	for dept := range ci.Departments {
		depts = append(depts, dept)
	}
	sort.Strings(depts)
	for _, dept := range depts {
		for _, c := range ci.Departments[dept] {
			if strings.EqualFold(c, category) {
				return dept
			}
		}
	}
	return ""
}
