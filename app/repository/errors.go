package repository

import "errors"

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderExists         = errors.New("order already exists")
	ErrOrderAlreadyPaid    = errors.New("order already paid")
	ErrOrderAlreadyFailed  = errors.New("order already failed")
	ErrInvalidTransition   = errors.New("invalid order status transition")
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidAmount       = errors.New("credit amount must be positive")
)
