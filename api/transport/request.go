package transport

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
}

type RefreshRequest struct {
	Token string `json:"token"`
}

type ArticleUpdateRequest struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Content string `json:"content"`
}

type CommentRequest struct {
	Content string `json:"content"`
}

type ReplayRequest struct {
	Limit int `json:"limit"`
}
