package session

import "fmt"

// IDKind tells what a session identifier refers to.
type IDKind string

// Identifier kinds.
const (
	IDChat IDKind = "chat"
	IDUser IDKind = "user"
)

// Tag uniquely identifies a session across builders.
type Tag struct {
	BuilderID string
	ID        int64
	Kind      IDKind
}

func (t Tag) String() string {
	return fmt.Sprintf("%s/%s:%d", t.BuilderID, t.Kind, t.ID)
}
