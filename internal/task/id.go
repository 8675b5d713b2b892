package task

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// idNamespace scopes task IDs so they never collide with other UUIDv5 users.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("mediaflow/task"))

// NewID derives the deterministic identifier for a task. The same inputs
// always yield the same ID, so callers vary createdAt to mint a new one.
func NewID(rowIndex int, workflow WorkflowType, productName string, createdAt time.Time) string {
	name := strings.Join([]string{
		strconv.Itoa(rowIndex),
		string(workflow),
		productName,
		createdAt.UTC().Format(time.RFC3339Nano),
	}, "|")
	return uuid.NewSHA1(idNamespace, []byte(name)).String()
}
