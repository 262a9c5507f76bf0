package api

// Error codes returned in ErrorResponse.Code
const (
	CodeBadRequest      = "bad_request"
	CodeUnauthorized    = "unauthorized"
	CodeValidation      = "validation_failed"
	CodeNotFound        = "not_found"
	CodeAlreadyExists   = "already_exists"
	CodeFieldNotInEntry = "field_not_in_entry"
	CodeRateLimited     = "rate_limited"
	CodeInternal        = "internal"
)

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // описание ошибки
	Code    string `json:"code"`              // машиночитаемый код
	Field   string `json:"field,omitempty"`   // поле, не прошедшее валидацию
	Message string `json:"message,omitempty"` // дополнительное сообщение
}
