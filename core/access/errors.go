package access

import "github.com/pkg/errors"

var (
	ErrSchoolNotFound       = errors.New("school not found")
	ErrIncompleteDescriptor = errors.New("incomplete school descriptor")
	ErrNotLinked            = errors.New("user is not linked to this school")
	ErrManagementDenied     = errors.New("management access is restricted to super admins")
	ErrInvalidChoice        = errors.New("choose exactly one of school or management")
	ErrNoSelection          = errors.New("no access selection")
	ErrUnauthenticated      = errors.New("user not authenticated")
	ErrNotReady             = errors.New("no school database selected")
	ErrInvalidToken         = errors.New("invalid identity token")
	ErrAlreadyRequested     = errors.New("access already requested")
	ErrRequestNotFound      = errors.New("access request not found")
	ErrInvalidRole          = errors.New("invalid school role")
)
