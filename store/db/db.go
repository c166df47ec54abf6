package db

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hrygo/intentgate/internal/profile"
	"github.com/hrygo/intentgate/store"
	"github.com/hrygo/intentgate/store/db/dynamodb"
	"github.com/hrygo/intentgate/store/db/memory"
	"github.com/hrygo/intentgate/store/db/postgres"
	"github.com/hrygo/intentgate/store/db/sqlite"
)

// NewDBDriver creates new db driver based on profile.
func NewDBDriver(ctx context.Context, profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "memory":
		driver = memory.NewDB()
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	case "dynamodb":
		driver, err = dynamodb.NewDB(ctx, profile)
	default:
		return nil, errors.New("unknown db driver")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
