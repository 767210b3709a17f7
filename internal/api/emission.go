package api

import (
	"context"
	"fmt"
	"net/http"
)

// StartEmission asks the backend to run an emission attempt whose status
// pushes go to connectionID. The response only acknowledges the request.
func (c *Client) StartEmission(ctx context.Context, connectionID string) error {
	if connectionID == "" {
		return fmt.Errorf("connection id is required")
	}
	resp, err := c.do(ctx, http.MethodPost, c.submitPath, connectionIDBody{ConnectionID: connectionID})
	if err != nil {
		return err
	}
	if !resp.Success && resp.Message != "" {
		c.logger.Warn("emission start not accepted", "message", resp.Message, "connection_id", connectionID)
	}
	return nil
}
