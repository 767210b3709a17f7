package api

import (
	"context"
	"net/http"
)

const socketsPath = "sockets"

type connectionIDBody struct {
	ConnectionID string `json:"connectionId"`
}

// SaveConnectionID associates the channel identifier with the session.
func (c *Client) SaveConnectionID(ctx context.Context, connectionID string) (GenericResponse, error) {
	return c.do(ctx, http.MethodPost, socketsPath, connectionIDBody{ConnectionID: connectionID})
}

// DeleteConnectionID removes the session's identifier.
func (c *Client) DeleteConnectionID(ctx context.Context) (GenericResponse, error) {
	return c.do(ctx, http.MethodDelete, socketsPath, nil)
}

// Register satisfies channel.Registrar.
func (c *Client) Register(ctx context.Context, connectionID string) error {
	_, err := c.SaveConnectionID(ctx, connectionID)
	return err
}

// Evict satisfies channel.Registrar.
func (c *Client) Evict(ctx context.Context) error {
	_, err := c.DeleteConnectionID(ctx)
	return err
}
