package models

// Student is an entry of a class roster. Its ID is the school-issued
// identifier and is unique within the class only.
type Student struct {
	ID      string  `db:"id" json:"id"`
	ClassID string  `db:"class_id" json:"class_id"`
	Name    string  `db:"name" json:"name"`
	UserID  *string `db:"user_id" json:"user_id,omitempty"`
}

// AddStudentRequest adds a single roster entry.
type AddStudentRequest struct {
	StudentID string `json:"student_id" validate:"required,max=64"`
	Name      string `json:"name" validate:"required,max=120"`
}

// UpdateStudentRequest edits a roster entry; StudentID renames it.
type UpdateStudentRequest struct {
	StudentID *string `json:"student_id" validate:"omitempty,min=1,max=64"`
	Name      *string `json:"name" validate:"omitempty,min=1,max=120"`
}

// MapStudentRequest links an account to a roster entry. UserID defaults to the caller.
type MapStudentRequest struct {
	StudentID string `json:"student_id" validate:"required,max=64"`
	UserID    string `json:"user_id" validate:"omitempty,uuid4"`
}

// UnmapStudentRequest clears an account's roster mapping. UserID defaults to the caller.
type UnmapStudentRequest struct {
	UserID string `json:"user_id" validate:"omitempty,uuid4"`
}

// MappedStudent reports the roster entry linked to an account, if any.
type MappedStudent struct {
	StudentID *string `json:"student_id"`
}
