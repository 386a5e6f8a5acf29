package clients

import "context"

type Repo interface {
	Upsert(ctx context.Context, clientData *Client) error
	Delete(ctx context.Context, clientID string) error
	Get(ctx context.Context, clientID string) (*Client, error)
	List(ctx context.Context, offset, limit int) ([]*Client, error)
}
