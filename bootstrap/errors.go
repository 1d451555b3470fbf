package bootstrap

import "errors"

var (
	ErrEmptyName          = errors.New("name cannot be empty")
	ErrNilService         = errors.New("service cannot be nil")
	ErrServiceExists      = errors.New("service already registered")
	ErrServiceNotFound    = errors.New("service not registered")
	ErrNotAssignable      = errors.New("service not assignable to target")
	ErrUnknownDependency  = errors.New("dependency not registered")
	ErrCircularDependency = errors.New("circular dependency detected")
	ErrAlreadyStarted     = errors.New("lifecycle manager already started")
	ErrAlreadyRunning     = errors.New("application already running")
)
