package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// StatusURI is the status resource address.
const StatusURI = "maomao://status"

var errUnknownResource = errors.New("unknown resource")

var statusResource = Resource{
	URI:         StatusURI,
	Name:        "status",
	Description: "Current knowledge base status",
	MimeType:    "application/json",
}

type statusDocument struct {
	VectorCount int `json:"vectorCount"`
	Config      any `json:"config,omitempty"`
}

func (s *Server) readResource(ctx context.Context, uri string) (readResourceResult, error) {
	if uri != StatusURI {
		return readResourceResult{}, fmt.Errorf("%w: %s", errUnknownResource, uri)
	}
	st, err := s.svc.GetStatus(ctx)
	if err != nil {
		return readResourceResult{}, fmt.Errorf("status: %w", err)
	}
	data, err := json.MarshalIndent(statusDocument{VectorCount: st.Count, Config: s.info.StatusConfig}, "", "  ")
	if err != nil {
		return readResourceResult{}, fmt.Errorf("marshal status: %w", err)
	}
	return readResourceResult{Contents: []resourceContents{{
		URI:      StatusURI,
		MimeType: "application/json",
		Text:     string(data),
	}}}, nil
}
