package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// The routine is the fast assignment path: it picks the head of the
// department queue, marks the nurse busy, binds the call and rotates the
// queue inside a single database transaction. Result columns must stay
// named success, nurse_id and error_code; the API selects them by name.
const assignRoutineSQL = `
CREATE OR REPLACE FUNCTION assign_call_to_next_nurse(p_call_id BIGINT, p_dept_id BIGINT)
RETURNS TABLE(success BOOLEAN, nurse_id BIGINT, error_code TEXT)
LANGUAGE plpgsql
AS $$
DECLARE
	v_nurse_id BIGINT;
	v_now TIMESTAMPTZ := now();
BEGIN
	SELECT dq.nurse_id INTO v_nurse_id
	FROM dispatch_queue dq
	JOIN nurses n ON n.id = dq.nurse_id
	WHERE dq.dept_id = p_dept_id
	  AND (dq.is_excluded = FALSE OR dq.excluded_until < v_now)
	  AND n.status = 'available'
	ORDER BY dq.queue_position ASC, dq.nurse_id ASC
	LIMIT 1
	FOR UPDATE OF dq SKIP LOCKED;

	IF v_nurse_id IS NULL THEN
		INSERT INTO escalation_queue (call_id, level, reason, created_at)
		VALUES (p_call_id, 1, 'no_available_nurse', v_now)
		ON CONFLICT DO NOTHING;
		RETURN QUERY SELECT FALSE, NULL::BIGINT, 'NO_NURSE_AVAILABLE'::TEXT;
		RETURN;
	END IF;

	UPDATE nurses n
	SET status = 'busy', last_assigned_at = v_now
	WHERE n.id = v_nurse_id;

	UPDATE calls c
	SET nurse_id = v_nurse_id, status = 'assigned', assigned_at = v_now
	WHERE c.id = p_call_id;

	UPDATE dispatch_queue dq
	SET queue_position = (
		SELECT COALESCE(MAX(inner_dq.queue_position), 0) + 1
		FROM dispatch_queue inner_dq
		WHERE inner_dq.dept_id = p_dept_id
	)
	WHERE dq.nurse_id = v_nurse_id AND dq.dept_id = p_dept_id;

	RETURN QUERY SELECT TRUE, v_nurse_id, NULL::TEXT;
EXCEPTION WHEN OTHERS THEN
	RETURN QUERY SELECT FALSE, NULL::BIGINT, 'EXECUTION_FAILED'::TEXT;
END;
$$;
`

func createAssignRoutine() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000007_create_assign_routine",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec(assignRoutineSQL).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec("DROP FUNCTION IF EXISTS assign_call_to_next_nurse(BIGINT, BIGINT)").Error
		},
	}
}
