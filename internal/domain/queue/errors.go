package queue

import "errors"

var (
	ErrTicketNotFound     = errors.New("queue ticket not found")
	ErrVisitNotFound      = errors.New("visit not found")
	ErrDepartmentNotFound = errors.New("department not found")
	ErrStaffNotFound      = errors.New("staff department not found")

	ErrDuplicateTicket   = errors.New("queue already exists for this visit")
	ErrInvalidTransition = errors.New("invalid queue transition")
)
