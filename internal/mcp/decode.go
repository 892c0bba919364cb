package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/tandem/internal/errors"
)

// decode unmarshals MCP request arguments into a typed struct. Malformed
// ops keep their INVALID_CONTENT code; anything else is INVALID_REQUEST.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var result T
	b, err := json.Marshal(req.GetArguments())
	if err != nil {
		return result, errors.NewInvalidRequest(fmt.Sprintf("marshal args: %v", err))
	}
	if err := json.Unmarshal(b, &result); err != nil {
		if sErr, ok := errors.As(err); ok {
			return result, sErr
		}
		return result, errors.NewInvalidRequest(fmt.Sprintf("unmarshal args: %v", err))
	}
	return result, nil
}
