package storage

import (
	"encoding/json"
	"fmt"

	"github.com/chadiek/historia/internal/conversation"
)

// DefaultHistoryKey is the single key under which the serialized history array lives.
const DefaultHistoryKey = "historia-chat-history"

func encodeHistory(h []conversation.Session) ([]byte, error) {
	if h == nil {
		h = []conversation.Session{}
	}
	data, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	return data, nil
}

func decodeHistory(data []byte) ([]conversation.Session, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var h []conversation.Session
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return h, nil
}
