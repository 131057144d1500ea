package stratum

import (
	"encoding/json"
	"fmt"
)

// Request is a client-to-server Stratum message: one JSON object per line.
// Grounded on the teacher's StratumMessage/ParseStratumMessage shape.
type Request struct {
	ID     interface{}   `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// Response is a server-to-client reply to a Request with the same ID.
type Response struct {
	ID     interface{} `json:"id"`
	Result interface{} `json:"result"`
	Error  interface{} `json:"error"`
}

// Notification is a server-to-client message with no ID.
type Notification struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// ParseRequest parses one line of input into a Request.
func ParseRequest(line []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("parse stratum message: %w", err)
	}
	if req.Method == "" {
		return nil, fmt.Errorf("method field is required")
	}
	return &req, nil
}

func (r *Response) marshalLine() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	return append(data, '\n'), nil
}

func (n *Notification) marshalLine() ([]byte, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}
	return append(data, '\n'), nil
}

// NewOKResponse builds a plain {result: v, error: nil} reply.
func NewOKResponse(id interface{}, result interface{}) *Response {
	return &Response{ID: id, Result: result}
}

// NewErrorResponse builds the §6 error envelope: [code, message, stack|nil].
func NewErrorResponse(id interface{}, code int, message string) *Response {
	return &Response{ID: id, Result: nil, Error: []interface{}{code, message, nil}}
}

// NewSubscribeResponse builds the dialect-dependent mining.subscribe result.
func NewSubscribeResponse(id interface{}, dialect Dialect, extranonce1 string) *Response {
	switch dialect {
	case DialectBitmain:
		extranonce2Size := 8 - len(extranonce1)/2
		return &Response{ID: id, Result: []interface{}{nil, extranonce1, extranonce2Size}}
	default:
		return &Response{ID: id, Result: []interface{}{true, "EthereumStratum/1.0.0"}}
	}
}

// NewSetExtranonce builds the dialect-shaped set_extranonce notification.
func NewSetExtranonce(dialect Dialect, extranonce1 string) *Notification {
	switch dialect {
	case DialectBitmain:
		extranonce2Size := 8 - len(extranonce1)/2
		return &Notification{Method: "set_extranonce", Params: []interface{}{extranonce1, extranonce2Size}}
	default:
		return &Notification{Method: "set_extranonce", Params: []interface{}{extranonce1}}
	}
}

// NewSetDifficulty builds the mining.set_difficulty notification.
func NewSetDifficulty(difficulty float64) *Notification {
	return &Notification{Method: "mining.set_difficulty", Params: []interface{}{difficulty}}
}

// NewNotify builds the mining.notify frame: [jobID, preHash||timestampLE].
// The Bitmain dialect's notify encoding is acknowledged in the upstream
// source as incomplete; per design notes this implementation deliberately
// falls back to the same frame shape as Standard for both dialects rather
// than guessing a format.
func NewNotify(jobIDHex, preHashWithTimestampHex string) *Notification {
	return &Notification{Method: "mining.notify", Params: []interface{}{jobIDHex, preHashWithTimestampHex}}
}
