package memory

import "fmt"

type repoError struct {
	op          string
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repoError) Error() string {
	return fmt.Sprintf("%s: %s", e.op, e.msg)
}

func (e *repoError) IsNotFound() bool    { return e.notFound }
func (e *repoError) IsConflict() bool    { return e.conflict }
func (e *repoError) IsUnavailable() bool { return e.unavailable }

func notFound(op, id string) error {
	return &repoError{op: op, msg: fmt.Sprintf("session %s not found", id), notFound: true}
}

func conflict(op, id string) error {
	return &repoError{op: op, msg: fmt.Sprintf("session %s was modified concurrently", id), conflict: true}
}
