package system

import "errors"

var (
	ErrActorNameTaken      = errors.New("system: actor name already registered")
	ErrUnknownActorFactory = errors.New("system: unknown actor factory")
	ErrNotChild            = errors.New("system: not running as a process group")
	ErrTransportBound      = errors.New("system: transport already bound")
	ErrNoTransport         = errors.New("system: no transport bound")
	ErrProcessExited       = errors.New("system: process exited")
)
