package domain

// BadRequest - отказ, который пользователь может исправить.
// Никогда не попадает в журнал событий.
type BadRequest struct {
	Message string
}

func (e *BadRequest) Error() string { return e.Message }

// Is сравнивает по сообщению, чтобы работал errors.Is с сентинелами ниже.
func (e *BadRequest) Is(target error) bool {
	t, ok := target.(*BadRequest)
	return ok && t.Message == e.Message
}

var (
	ErrAlreadyClaimed   = &BadRequest{Message: "Could not claim an already claimed constraint"}
	ErrAlreadyValidated = &BadRequest{Message: "Could not claim an already validated constraint"}
)

func alreadyClaimed() error   { return &BadRequest{Message: ErrAlreadyClaimed.Message} }
func alreadyValidated() error { return &BadRequest{Message: ErrAlreadyValidated.Message} }
