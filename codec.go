package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// DecodeError reports a line that could not be decoded into a valid message. ID holds the
// message id when the line was parsed far enough to recover one; callers answer with an
// error response when it is set and drop the line otherwise.
type DecodeError struct {
	ID     RequestID
	Code   int
	Reason string
}

var errEmptyLine = errors.New("empty line")

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode message: %s", e.Reason)
}

// JSONRPCError converts the decode failure into the error object sent back to the peer.
func (e *DecodeError) JSONRPCError() *JSONRPCError {
	return &JSONRPCError{Code: e.Code, Message: e.Reason}
}

// Encode serializes a message into a single newline terminated line.
func Encode(msg JSONRPCMessage) ([]byte, error) {
	if msg.JSONRPC == "" {
		msg.JSONRPC = JSONRPCVersion
	}
	bs, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return append(bs, '\n'), nil
}

// DecodeRequest decodes a line received by the server. The line must hold a request or a
// notification: a JSON object with "jsonrpc":"2.0", a method, and object params if any.
func DecodeRequest(line []byte) (JSONRPCMessage, error) {
	fields, id, err := splitLine(line)
	if err != nil {
		return JSONRPCMessage{}, err
	}

	invalid := func(format string, args ...any) error {
		return &DecodeError{ID: id, Code: CodeInvalidRequest, Reason: fmt.Sprintf(format, args...)}
	}

	if err := checkVersion(fields); err != nil {
		return JSONRPCMessage{}, invalid("%s", err)
	}
	if _, ok := fields["result"]; ok {
		return JSONRPCMessage{}, invalid("unexpected result in request")
	}
	if _, ok := fields["error"]; ok {
		return JSONRPCMessage{}, invalid("unexpected error in request")
	}

	rawMethod, ok := fields["method"]
	if !ok {
		return JSONRPCMessage{}, invalid("missing method")
	}
	var method string
	if err := json.Unmarshal(rawMethod, &method); err != nil || method == "" {
		return JSONRPCMessage{}, invalid("method must be a non-empty string")
	}

	msg := JSONRPCMessage{JSONRPC: JSONRPCVersion, ID: id, Method: method}
	if params, ok := fields["params"]; ok && !isNull(params) {
		if !bytes.HasPrefix(bytes.TrimSpace(params), []byte("{")) {
			return JSONRPCMessage{}, invalid("params must be an object")
		}
		msg.Params = params
	}
	return msg, nil
}

// DecodeResponse decodes a line received by a client. The line must hold a response or an
// error response for a non-null id.
func DecodeResponse(line []byte) (JSONRPCMessage, error) {
	fields, id, err := splitLine(line)
	if err != nil {
		return JSONRPCMessage{}, err
	}

	invalid := func(format string, args ...any) error {
		return &DecodeError{ID: id, Code: CodeInvalidRequest, Reason: fmt.Sprintf(format, args...)}
	}

	if err := checkVersion(fields); err != nil {
		return JSONRPCMessage{}, invalid("%s", err)
	}
	if _, ok := fields["method"]; ok {
		return JSONRPCMessage{}, invalid("unexpected method in response")
	}
	if id.IsZero() {
		return JSONRPCMessage{}, invalid("missing id")
	}

	result, hasResult := fields["result"]
	rawErr, hasError := fields["error"]
	if hasResult == hasError {
		return JSONRPCMessage{}, invalid("response must carry exactly one of result or error")
	}

	msg := JSONRPCMessage{JSONRPC: JSONRPCVersion, ID: id}
	if hasResult {
		msg.Result = result
		return msg, nil
	}
	var jErr JSONRPCError
	if err := json.Unmarshal(rawErr, &jErr); err != nil {
		return JSONRPCMessage{}, invalid("malformed error object: %s", err)
	}
	msg.Error = &jErr
	return msg, nil
}

// splitLine parses the line as a JSON object and recovers its id.
func splitLine(line []byte) (map[string]json.RawMessage, RequestID, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, "", &DecodeError{Code: CodeParseError, Reason: errEmptyLine.Error()}
	}
	if !json.Valid(line) {
		return nil, "", &DecodeError{Code: CodeParseError, Reason: "invalid JSON"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return nil, "", &DecodeError{Code: CodeInvalidRequest, Reason: "message must be a JSON object"}
	}

	var id RequestID
	if rawID, ok := fields["id"]; ok {
		if err := json.Unmarshal(rawID, &id); err != nil {
			return nil, "", &DecodeError{Code: CodeInvalidRequest, Reason: err.Error()}
		}
	}
	return fields, id, nil
}

func checkVersion(fields map[string]json.RawMessage) error {
	raw, ok := fields["jsonrpc"]
	if !ok {
		return errors.New("missing jsonrpc version")
	}
	var version string
	if err := json.Unmarshal(raw, &version); err != nil || version != JSONRPCVersion {
		return fmt.Errorf("unsupported jsonrpc version %s", raw)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
