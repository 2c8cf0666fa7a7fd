package worker

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MessageSkipWaiting 请求等待中的版本立即接管。
const MessageSkipWaiting = "SKIP_WAITING"

// Message 是页面发往 worker 的控制消息，没有确认载荷。
type Message struct {
	Type string `json:"type"`
}

// ParseMessage 解码 {"type": "..."}。
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	msg.Type = strings.TrimSpace(msg.Type)
	if msg.Type == "" {
		return Message{}, fmt.Errorf("message type required")
	}
	return msg, nil
}
