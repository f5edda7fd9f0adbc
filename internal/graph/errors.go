package graph

import "errors"

// Build errors. Callers classify with errors.Is; the wrapped message
// carries the offending stage and artifact names.
var (
	ErrEmptyPipeline   = errors.New("pipeline defines no runnable stages")
	ErrDuplicateStage  = errors.New("duplicate stage id")
	ErrDuplicateWriter = errors.New("artifact has more than one writer")
	ErrDanglingInput   = errors.New("dangling input")
	ErrCycle           = errors.New("dependency cycle")
)
