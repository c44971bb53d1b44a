package registry

import (
	"fmt"

	internalerrors "github.com/mcpcore/go-mcp/internal/errors"
	"github.com/mcpcore/go-mcp/internal/jsonrpc"
	"github.com/mcpcore/go-mcp/internal/protocol"
)

// Sentinel kinds shared by all four registry tables.
var (
	ErrAlreadyRegistered = fmt.Errorf("registry: entry already registered")
	ErrNotFound          = fmt.Errorf("registry: entry not found")
)

func domainErr(op string, kind error, err error, key string) error {
	return internalerrors.New("registry", op, kind, err).WithContext("key", key)
}

// invalidParams builds the *protocol.MethodError a request handler returns
// when a target is missing/disabled or its argument payload fails schema
// validation.
func invalidParams(message string) error {
	return &protocol.MethodError{Code: jsonrpc.CodeInvalidParams, Message: message}
}
