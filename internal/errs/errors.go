package errs

import "errors"

var (
	// ErrTicketNotFound — тикет с указанным id не найден.
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrNotConfigured — внешний сервис не сконфигурирован (не фатально:
	// процесс продолжает работать в local-only режиме).
	ErrNotConfigured = errors.New("not configured")
)
