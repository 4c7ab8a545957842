package queue

import (
	"context"
	"fmt"

	"github.com/sncs/nursecall-engine/internal/domain"
)

// Publisher hands escalation notifications to the broker for the
// external push workers.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg NotifyMessage) error
	Close() error
}

var supportedRoles = []string{
	domain.RoleNurse,
	domain.RoleDeptManager,
	domain.RoleSuperadmin,
}

const (
	// queueMaxPriority matches the highest escalation level.
	queueMaxPriority int32 = 3
)

func isSupportedRole(role string) bool {
	for _, r := range supportedRoles {
		if r == role {
			return true
		}
	}
	return false
}

// QueueName returns the per-role work queue name, e.g. notify.nurse.
func QueueName(role string) string {
	return fmt.Sprintf("notify.%s", role)
}

// DLQName returns the dead-letter queue name for a role.
func DLQName(role string) string {
	return fmt.Sprintf("dlq.%s", QueueName(role))
}

// WorkQueueNames returns all role work queues (3 total).
func WorkQueueNames() []string {
	queues := make([]string, 0, len(supportedRoles))
	for _, role := range supportedRoles {
		queues = append(queues, QueueName(role))
	}
	return queues
}

// DLQNames returns all dead-letter queues (3 total).
func DLQNames() []string {
	queues := make([]string, 0, len(supportedRoles))
	for _, role := range supportedRoles {
		queues = append(queues, DLQName(role))
	}
	return queues
}

// PriorityValue maps an escalation level to RabbitMQ message priority.
// Higher levels outrank lower ones on the wire, same as in dispatch.
func PriorityValue(level int) uint8 {
	if level < domain.EscalationLevelMin || level > domain.EscalationLevelMax {
		return 0
	}
	return uint8(level)
}
