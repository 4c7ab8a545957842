package queue

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sncs/nursecall-engine/internal/domain"
)

// NotifyMessage is the broker payload handed to the external push
// workers when a call escalates. One message per escalation step.
type NotifyMessage struct {
	MessageID  string `json:"messageId"`
	CallID     int64  `json:"callId"`
	RoomID     int64  `json:"roomId"`
	DeptID     int64  `json:"deptId"`
	HospitalID int64  `json:"hospitalId"`
	Level      int    `json:"level"`
	Role       string `json:"role"`
	Reason     string `json:"reason"`
}

// NewNotifyMessage builds a message for one escalation step with a
// fresh message id.
func NewNotifyMessage(call domain.Call, level domain.EscalationLevel) NotifyMessage {
	return NotifyMessage{
		MessageID:  uuid.NewString(),
		CallID:     call.ID,
		RoomID:     call.RoomID,
		DeptID:     call.DeptID,
		HospitalID: call.HospitalID,
		Level:      level.Level,
		Role:       level.NotifyRole,
		Reason:     level.Reason,
	}
}

func (m NotifyMessage) Validate() error {
	if strings.TrimSpace(m.MessageID) == "" {
		return fmt.Errorf("messageId is required")
	}
	if m.CallID <= 0 {
		return fmt.Errorf("callId is required")
	}
	if m.Level < domain.EscalationLevelMin || m.Level > domain.EscalationLevelMax {
		return fmt.Errorf("invalid escalation level %d", m.Level)
	}
	if !isSupportedRole(m.Role) {
		return fmt.Errorf("invalid notify role %q", m.Role)
	}
	return nil
}
