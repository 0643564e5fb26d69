package service

import (
	"context"
	"errors"
	"fmt"
)

// Ошибки ядра. Хендлеры переводят их в HTTP-статусы; всё, что не попало
// в таксономию, считается внутренней ошибкой.
var (
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
	ErrNotFound   = errors.New("not found")
	ErrTimeout    = errors.New("operation timed out")
)

// invalid оборачивает ErrValidation с пояснением для клиента.
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// classify переводит обрыв дедлайна в ErrTimeout: клиент должен отличать
// "не успели" (повторить можно) от "сломалось" (повторять бессмысленно).
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}
