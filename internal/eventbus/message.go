/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/friendsincode/hearth/internal/models"
)

// Message is the envelope published to external brokers.
type Message struct {
	NodeID    string       `json:"node_id"`
	MessageID string       `json:"message_id"` // for deduplication by consumers
	Event     models.Event `json:"event"`
}

func marshalMessage(event models.Event, nodeID string) ([]byte, error) {
	return json.Marshal(Message{
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
		Event:     event,
	})
}

func unmarshalMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal relay message: %w", err)
	}
	return &msg, nil
}

// NodeID identifies this process in relay envelopes.
func NodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "hearth"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
