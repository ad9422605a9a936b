package error

import "errors"

var (
	ErrInvalidTransition     = errors.New("invalid transition")
	ErrNotRetained           = errors.New("snapshot is not retained")
	ErrDebuggerNotStarted    = errors.New("debugger not started")
	ErrDebuggerIsClosed      = errors.New("debug is closed")
	ErrProgramIsRunning      = errors.New("the program is running")
	ErrProgramNotRunning     = errors.New("the program is not running")
	ErrReplayNotActive       = errors.New("replay session is not active")
	ErrBreakpointNotExist    = errors.New("breakpoint does not exist")
	ErrLoadProgramFailed     = errors.New("load program failed")
	ErrSessionNotInitialized = errors.New("session not initialized")
	ErrSessionInitialized    = errors.New("session already initialized")
	ErrSessionTerminated     = errors.New("session terminated")
)
