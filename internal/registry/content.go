// Package registry implements the server-side tool/resource/prompt tables:
// register/enable/disable/update/remove on each table, schema-validated
// invocation, resource templates, subscriptions, and completion. Built on
// an RWMutex-guarded maps-with-sentinel-error-on-missing pattern, extended
// with the additional lifecycle operations and tables a full MCP server
// needs beyond a bare tool/resource registry.
package registry

// ContentBlock is one piece of content in a tool result or prompt message,
// per the MCP content union (text/image/resource kept to the text case the
// core needs; richer kinds pass through MimeType/Data untouched).
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// TextContent builds a ContentBlock carrying plain text, the common case
// for tool results and prompt messages alike.
func TextContent(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}
