package handler

type registerRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type createBookRequest struct {
	Title   string `json:"title" binding:"max=200"`
	Premise string `json:"premise" binding:"required"`
}

type regenerateOutlineRequest struct {
	Premise string `json:"premise"`
}

type toggleChapterRequest struct {
	Eligible *bool `json:"eligible" binding:"required"`
}

type plotEventRequest struct {
	Storyline   string `json:"storyline" binding:"required"`
	Description string `json:"description"`
}

type generateChaptersResponse struct {
	TaskID string `json:"task_id"`
	BookID string `json:"book_id"`
}

type titlesResponse struct {
	Titles []string `json:"titles"`
}
