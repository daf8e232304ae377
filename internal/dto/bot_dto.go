package dto

type AskRequest struct {
	Text string `json:"text" validate:"required,max=4000"`
}

type BotReplyResponse struct {
	Reply string `json:"reply"`
}

type DocumentResponse struct {
	Number int    `json:"number"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type DocumentListResponse struct {
	Documents []DocumentResponse `json:"documents"`
}
