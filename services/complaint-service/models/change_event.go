package models

// ChangeEvent describes one write to a complaint document. Before is nil when
// the document was created by the write.
type ChangeEvent struct {
	Before *Complaint `json:"before,omitempty"`
	After  *Complaint `json:"after"`
}
