package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/voltchain/internal/ir"
)

// marshalPayload converts a notification payload to canonical JSON TEXT.
func marshalPayload(payload ir.Object) (string, error) {
	if payload == nil {
		payload = ir.Object{}
	}
	data, err := ir.MarshalCanonical(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

// unmarshalPayload parses canonical JSON TEXT back into an ir.Object.
// ir.Object decodes numbers as uint64, so amounts above 2^53 survive intact.
func unmarshalPayload(data string) (ir.Object, error) {
	if data == "" || data == "{}" {
		return ir.Object{}, nil
	}
	var obj ir.Object
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return obj, nil
}

// SealNotification assigns seq and the content-addressed ID.
// Shared by every store implementation so IDs agree across backends.
func SealNotification(n ir.Notification, seq int64) (ir.Notification, error) {
	n.Seq = seq
	if n.Payload == nil {
		n.Payload = ir.Object{}
	}
	id, err := ir.NotificationID(n)
	if err != nil {
		return ir.Notification{}, err
	}
	n.ID = id
	return n, nil
}
