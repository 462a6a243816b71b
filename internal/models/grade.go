package models

// Grade is a student's score for one composition. A nil Value means ungraded.
type Grade struct {
	ID            string `db:"id" json:"id"`
	StudentID     string `db:"student_id" json:"student_id"`
	ClassID       string `db:"class_id" json:"class_id"`
	CompositionID string `db:"composition_id" json:"composition_id"`
	Value         *int   `db:"value" json:"value"`
}

// GradeDetail joins a grade with its composition state.
type GradeDetail struct {
	Grade
	CompositionName string `db:"composition_name" json:"composition_name"`
	Percentage      int    `db:"percentage" json:"percentage"`
	Order           int    `db:"position" json:"order"`
	Finalized       bool   `db:"finalized" json:"finalized"`
}

// UpdateGradeRequest sets or clears a single grade.
type UpdateGradeRequest struct {
	Value *int `json:"value" validate:"omitempty,min=0,max=100"`
}

// StudentGrades is the per-student grade view of a class.
type StudentGrades struct {
	Student Student       `json:"student"`
	Grades  []GradeDetail `json:"grades"`
	Total   float64       `json:"total"`
}

// GradeBoardColumn describes one composition column of the board.
type GradeBoardColumn struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Percentage int    `json:"percentage"`
	Order      int    `json:"order"`
	Finalized  bool   `json:"finalized"`
}

// GradeBoardRow is one student line of the board, grades aligned with the header.
type GradeBoardRow struct {
	StudentID string  `json:"student_id"`
	Name      string  `json:"name"`
	Grades    []*int  `json:"grades"`
	Total     float64 `json:"total"`
}

// GradeBoard is the class-wide grade matrix.
type GradeBoard struct {
	ClassID string             `json:"class_id"`
	Header  []GradeBoardColumn `json:"header"`
	Rows    []GradeBoardRow    `json:"rows"`
}
