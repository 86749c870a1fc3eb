package models

import "github.com/google/uuid"

// Enrollment links a student to a class. Rows are maintained by the roster system.
type Enrollment struct {
	ClassID   uuid.UUID `json:"class_id"`
	StudentID uuid.UUID `json:"student_id"`
}
