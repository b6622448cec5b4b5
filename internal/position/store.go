package position

import (
	"context"

	"positionScope/internal/model"
)

// Store resolves and persists the entities touched by position events.
// Lookups never create; get-or-create policy lives in the Engine.
type Store interface {
	Position(ctx context.Context, id string) (Lookup[model.Position], error)
	Pool(ctx context.Context, address string) (Lookup[model.Pool], error)
	Token(ctx context.Context, address string) (Lookup[model.Token], error)
	Account(ctx context.Context, address string) (Lookup[model.Account], error)
	Protocol(ctx context.Context) (Lookup[model.Protocol], error)
	Apply(ctx context.Context, cs ChangeSet) error
}

// ChangeSet is every mutation produced by one event. Stores apply it all or
// nothing, together with the cursor of the event.
type ChangeSet struct {
	Position model.Position
	Pools    []model.Pool
	Accounts []model.Account
	Protocol *model.Protocol
	Snapshot *model.PositionSnapshot
	Cursor   model.Cursor
}
