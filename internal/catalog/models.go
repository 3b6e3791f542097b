package catalog

type Course struct {
	ID                    string `json:"id"`
	Title                 string `json:"title"`
	ComplianceCertificate bool   `json:"compliance_certificate"` // course also issues a compliance supplement
	CreatedAt             int64  `json:"created_at,omitempty"`
}

type Chapter struct {
	ID       string `json:"id"`
	CourseID string `json:"course_id"`
	Title    string `json:"title"`
	Position int    `json:"position"`
}

type Lesson struct {
	ID        string `json:"id"`
	ChapterID string `json:"chapter_id"`
	Title     string `json:"title"`
	Position  int    `json:"position"`
	BodyHTML  string `json:"body_html,omitempty"`
}

// Question is the authored form of a graded question: four (or two, for
// true/false) options and the index of the correct one.
type Question struct {
	ID            string   `json:"id"`
	CourseID      string   `json:"course_id"`
	ChapterID     string   `json:"chapter_id"`
	Type          string   `json:"type"` // mcq_single, true_false
	PromptHTML    string   `json:"prompt_html"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correct_option"`
	Explanation   string   `json:"explanation,omitempty"`
	Difficulty    string   `json:"difficulty,omitempty"`
}
