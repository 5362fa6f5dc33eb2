package domain

import "errors"

// Unit - пустое значение для Status без полезной нагрузки.
type Unit struct{}

// Status - конверт результата: либо Success(value), либо Failure(err).
type Status[T any] struct {
	value T
	err   error
}

func Success[T any](value T) Status[T] {
	return Status[T]{value: value}
}

func Failure[T any](err error) Status[T] {
	if err == nil {
		err = errors.New("unknown failure")
	}
	return Status[T]{err: err}
}

// StatusOf выполняет fn и заворачивает результат в Status.
func StatusOf[T any](fn func() (T, error)) Status[T] {
	v, err := fn()
	if err != nil {
		return Failure[T](err)
	}
	return Success(v)
}

func (s Status[T]) IsSuccess() bool { return s.err == nil }

func (s Status[T]) Value() T { return s.value }

// Err возвращает причину отказа, nil для Success.
func (s Status[T]) Err() error { return s.err }

// Message - человекочитаемая причина отказа, пустая строка для Success.
func (s Status[T]) Message() string {
	if s.err == nil {
		return ""
	}
	return s.err.Error()
}

// IsBadRequest - отказ по бизнес-правилу (исправимо пользователем).
func (s Status[T]) IsBadRequest() bool {
	var br *BadRequest
	return errors.As(s.err, &br)
}
