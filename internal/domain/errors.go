package domain

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrAlreadyExists          = errors.New("already exists")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrAuthFailed             = errors.New("authentication failed")
	ErrWSDisconnect           = errors.New("websocket disconnected")
	ErrMaxRetries             = errors.New("max reconnect attempts exhausted")
	ErrProtocol               = errors.New("malformed venue message")
	ErrInvalidOrder           = errors.New("invalid order parameters")
	ErrDuplicateExecution     = errors.New("execution already in flight")
	ErrExecutionFailed        = errors.New("execution failed")
	ErrInsufficientLiquidity  = errors.New("insufficient liquidity")
	ErrSizeLimitExceeded      = errors.New("size limit exceeded")
	ErrOpportunityNotActive   = errors.New("opportunity not active")
	ErrStatusTransitionDenied = errors.New("status transition denied")
)
