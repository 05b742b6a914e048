package orchestratordb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	mghelper "github.com/swapall/bridge-orchestrator/pkg/pgutil/migrations"
	registrypg "github.com/swapall/bridge-orchestrator/pkg/registry/pg"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating transfers table...")
		if err := mghelper.CreateSchema(ctx, db, &registrypg.TransferDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &registrypg.TransferDao{}, "state", "bridge_kind", "updated_at")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping transfers table...")
		return mghelper.DropTables(ctx, db, &registrypg.TransferDao{})
	})
}
