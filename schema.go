package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// RequestID identifies a request-response pair. It keeps the id exactly as the peer encoded
// it, so a numeric id is echoed back as a number and a string id as a string. The zero value
// means "no id", which is how notifications are represented.
type RequestID string

// MessageKind classifies a JSONRPCMessage.
type MessageKind int

// JSONRPCMessage represents a JSON-RPC 2.0 message. It can represent a request, notification,
// response, or error response depending on which fields are populated:
//   - Request: JSONRPC, ID, Method, and Params are set
//   - Notification: JSONRPC and Method are set (no ID)
//   - Response: JSONRPC, ID, and Result are set
//   - ErrorResponse: JSONRPC, ID, and Error are set
type JSONRPCMessage struct {
	// JSONRPC must always be "2.0"
	JSONRPC string `json:"jsonrpc"`
	// ID uniquely identifies request-response pairs and must be a string or number
	ID RequestID `json:"id,omitempty"`
	// Method contains the RPC method name for requests and notifications
	Method string `json:"method,omitempty"`
	// Params contains the parameters for the method call as a raw JSON object
	Params json.RawMessage `json:"params,omitempty"`
	// Result contains the successful response data as a raw JSON message
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains error details if the request failed
	Error *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents an error response in the JSON-RPC 2.0 protocol.
type JSONRPCError struct {
	// Code indicates the error type that occurred.
	Code int `json:"code"`

	// Message provides a short description of the error.
	Message string `json:"message"`

	// Data contains additional information about the error.
	Data map[string]any `json:"data,omitempty"`
}

// Info contains metadata about a server or client instance including its name and version.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities represents server capabilities.
type ServerCapabilities struct {
	Prompts   *PromptsCapability   `json:"prompts,omitempty"`
	Resources *ResourcesCapability `json:"resources,omitempty"`
	Tools     *ToolsCapability     `json:"tools,omitempty"`
}

// PromptsCapability represents prompts-specific capabilities.
type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability represents resources-specific capabilities.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// ToolsCapability represents tools-specific capabilities.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeParams is sent by the client with the initialize request.
type InitializeParams struct {
	ProtocolVersion string          `json:"protocolVersion,omitempty"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ClientInfo      Info            `json:"clientInfo"`
}

// InitializeResult is the server's answer to initialize.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Info               `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// Tool defines a callable tool with its input schema.
type Tool struct {
	// Name is the unique identifier of the tool
	Name string `json:"name"`

	// Description is a human-readable description of the tool
	Description string `json:"description,omitempty"`

	// InputSchema defines the expected parameters for the tool using JSON Schema
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListToolsResult represents the catalog returned by listTools.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams contains parameters for executing a specific tool.
type CallToolParams struct {
	// Name is the unique identifier of the tool to execute
	Name string `json:"name"`

	// Arguments is a JSON object of argument name-value pairs
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult represents the outcome of a tool invocation. Domain failures are reported
// here as text content with IsError set, never as a protocol error.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// ContentType represents the type of content in a result block.
type ContentType string

// Content represents a single block of tool or prompt output.
type Content struct {
	Type ContentType `json:"type"`
	Text string      `json:"text"`
}

// Resource represents a discoverable context resource.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ListResourcesResult represents the catalog returned by listResources.
type ListResourcesResult struct {
	Resources []Resource `json:"resources"`
}

// ReadResourceParams contains parameters for retrieving a specific resource.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// ResourceContents is the text of a resource.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text"`
}

// ReadResourceResult represents the result of a readResource request.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// Prompt defines a reusable prompt template with named placeholders.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument defines a single placeholder of a prompt.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// ListPromptsResult represents the catalog returned by listPrompts.
type ListPromptsResult struct {
	Prompts []Prompt `json:"prompts"`
}

// GetPromptParams contains parameters for rendering a prompt.
type GetPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// PromptMessage is one message of a rendered prompt.
type PromptMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// GetPromptResult represents a rendered prompt.
type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

const (
	// JSONRPCVersion specifies the JSON-RPC protocol version used for communication.
	JSONRPCVersion = "2.0"

	// ProtocolVersion is reported to clients in the initialize result.
	ProtocolVersion = "2024-11-05"

	// MethodInitialize starts a session.
	MethodInitialize = "initialize"
	// MethodListTools lists the tool catalog.
	MethodListTools = "listTools"
	// MethodListResources lists the resource catalog.
	MethodListResources = "listResources"
	// MethodReadResource reads one resource.
	MethodReadResource = "readResource"
	// MethodListPrompts lists the prompt catalog.
	MethodListPrompts = "listPrompts"
	// MethodGetPrompt renders one prompt.
	MethodGetPrompt = "getPrompt"
	// MethodCallTool invokes a tool.
	MethodCallTool = "callTool"
	// MethodPing checks liveness.
	MethodPing = "ping"
	// MethodShutdown asks the server to stop serving requests.
	MethodShutdown = "shutdown"
	// MethodExit ends the session after shutdown.
	MethodExit = "exit"

	methodToolsList                = "tools/list"
	methodToolsCall                = "tools/call"
	methodResourcesList            = "resources/list"
	methodResourcesRead            = "resources/read"
	methodPromptsList              = "prompts/list"
	methodPromptsGet               = "prompts/get"
	methodNotificationsInitialized = "notifications/initialized"

	// ContentTypeText represents text content.
	ContentTypeText ContentType = "text"

	// RoleUser is the role of a prompt message addressed to the model on behalf of the user.
	RoleUser = "user"
)

const (
	// KindInvalid is a message that is none of the other kinds.
	KindInvalid MessageKind = iota
	// KindRequest is a message with a method and an id.
	KindRequest
	// KindNotification is a message with a method and no id.
	KindNotification
	// KindResponse is a message with an id and a result.
	KindResponse
	// KindErrorResponse is a message with an id and an error.
	KindErrorResponse
)

const (
	// CodeParseError is returned when a line is not valid JSON.
	CodeParseError = -32700
	// CodeInvalidRequest is returned when a line is not a valid request object.
	CodeInvalidRequest = -32600
	// CodeMethodNotFound is returned for unknown methods.
	CodeMethodNotFound = -32601
	// CodeInvalidParams is returned when a method's params cannot be used.
	CodeInvalidParams = -32602
	// CodeInternalError is returned when the server fails to build a response.
	CodeInternalError = -32603
	// CodeInvalidState is returned when a method is called outside the lifecycle state it
	// requires. It lives in the range JSON-RPC reserves for server errors.
	CodeInvalidState = -32002
)

// aliases maps MCP-style method names to the names this server routes on.
var aliases = map[string]string{
	methodToolsList:     MethodListTools,
	methodToolsCall:     MethodCallTool,
	methodResourcesList: MethodListResources,
	methodResourcesRead: MethodReadResource,
	methodPromptsList:   MethodListPrompts,
	methodPromptsGet:    MethodGetPrompt,
}

// NewNumberID returns a numeric RequestID.
func NewNumberID(n int64) RequestID {
	return RequestID(strconv.FormatInt(n, 10))
}

// NewStringID returns a string RequestID.
func NewStringID(s string) RequestID {
	bs, _ := json.Marshal(s)
	return RequestID(bs)
}

// IsZero reports whether the id is absent.
func (id RequestID) IsZero() bool {
	return id == ""
}

// String returns the id in its wire form, for logging.
func (id RequestID) String() string {
	return string(id)
}

// UnmarshalJSON implements json.Unmarshaler. Only JSON strings and numbers are accepted; a
// JSON null is decoded as the zero id.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid string id: %w", err)
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid numeric id: %w", err)
		}
	default:
		return fmt.Errorf("id must be a string or a number, got %s", data)
	}
	*id = RequestID(data)
	return nil
}

// MarshalJSON implements json.Marshaler, writing the id back in its original form.
func (id RequestID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	return []byte(id), nil
}

// Kind classifies the message by the fields it carries.
func (m JSONRPCMessage) Kind() MessageKind {
	hasMethod := m.Method != ""
	hasResult := len(m.Result) > 0
	hasError := m.Error != nil
	switch {
	case hasMethod && !hasResult && !hasError && m.ID.IsZero():
		return KindNotification
	case hasMethod && !hasResult && !hasError:
		return KindRequest
	case !hasMethod && hasResult && !hasError && !m.ID.IsZero():
		return KindResponse
	case !hasMethod && !hasResult && hasError && !m.ID.IsZero():
		return KindErrorResponse
	}
	return KindInvalid
}

func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	case KindErrorResponse:
		return "error response"
	}
	return "invalid"
}

func (j JSONRPCError) Error() string {
	return fmt.Sprintf("request error, code: %d, message: %s, data %+v", j.Code, j.Message, j.Data)
}

// TextResult builds a single text block result.
func TextResult(text string) CallToolResult {
	return CallToolResult{Content: []Content{{Type: ContentTypeText, Text: text}}}
}

// ErrorResult builds a single text block result flagged as a domain error.
func ErrorResult(text string) CallToolResult {
	return CallToolResult{Content: []Content{{Type: ContentTypeText, Text: text}}, IsError: true}
}

func newResult(id RequestID, result any) (JSONRPCMessage, error) {
	bs, err := json.Marshal(result)
	if err != nil {
		return JSONRPCMessage{}, fmt.Errorf("failed to marshal result: %w", err)
	}
	return JSONRPCMessage{JSONRPC: JSONRPCVersion, ID: id, Result: bs}, nil
}

func newErrorResponse(id RequestID, code int, message string) JSONRPCMessage {
	return JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	}
}
