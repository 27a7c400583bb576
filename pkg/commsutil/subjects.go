package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectPrefix      = "res"
	SubjectChangeEvent = "res.changed"
)

// BuildChangeSubject builds the granular change event subject of one resource.
func BuildChangeSubject(service, resource string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectChangeEvent, token(service), token(resource))
}

// BuildResourceSubject builds the request subject a resource listens on, e.g.
// res.todo-service.todos.v1. An empty prefix uses SubjectPrefix.
func BuildResourceSubject(prefix, service, resource string, major uint64) string {
	if prefix == "" {
		prefix = SubjectPrefix
	}
	return fmt.Sprintf("%s.%s.%s.v%d", prefix, token(service), token(resource), major)
}

// token makes a name usable as a single subject token.
func token(name string) string {
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(name)
}
