package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/easydata-inc/easydata-engine/pkg/apperrors"
)

// documentRequestKeys is the closed set of fields a document-family request
// may carry. Anything else — insert/update/delete verbs included — is
// rejected so routed document queries stay read-only by construction.
var documentRequestKeys = map[string]bool{
	"collection": true,
	"filter":     true,
	"projection": true,
	"limit":      true,
}

// ParseDocumentRequest parses planner output for a document engine into a
// Request. The expected shape is:
//
//	{"collection": "orders", "filter": {"status": "open"}, "limit": 50}
//
// Unknown top-level keys fail closed with ErrOperationNotPermitted.
func ParseDocumentRequest(raw string) (*Request, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty document request")
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return nil, fmt.Errorf("parse document request: %w", err)
	}

	for key := range generic {
		if !documentRequestKeys[strings.ToLower(key)] {
			return nil, fmt.Errorf("%w: unexpected field %q in document request",
				apperrors.ErrOperationNotPermitted, key)
		}
	}

	var req Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, fmt.Errorf("parse document request: %w", err)
	}
	if req.Collection == "" {
		return nil, fmt.Errorf("document request missing collection")
	}
	if req.Filter == nil {
		req.Filter = map[string]any{}
	}
	return &req, nil
}
