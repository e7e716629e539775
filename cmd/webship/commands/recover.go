package commands

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/webship/internal/broadcast"
	"git.home.luguber.info/inful/webship/internal/config"
	"git.home.luguber.info/inful/webship/internal/publish"
	"git.home.luguber.info/inful/webship/internal/queue"
	"git.home.luguber.info/inful/webship/internal/store"
	"git.home.luguber.info/inful/webship/internal/workspace"
)

// RecoverCmd implements the 'recover' command.
type RecoverCmd struct{}

func (r *RecoverCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(g, root, false)
	if err != nil {
		return err
	}
	n, err := RunRecover(context.Background(), cfg)
	if err != nil {
		return err
	}
	fmt.Printf("Recovered %d interrupted build(s)\n", n)
	return nil
}

// RunRecover fails builds left running by a dead process, clears their
// workspaces and realigns every live site with its record. It must not run
// while a daemon is using the same database.
func RunRecover(ctx context.Context, cfg *config.Config) (int, error) {
	st, err := store.NewSQLiteStore(cfg.Storage.Database)
	if err != nil {
		return 0, err
	}
	defer func() { _ = st.Close() }()

	hub := broadcast.NewHub(st, cfg.Broadcast.SubscriberBuffer)
	defer hub.Close()

	sched := queue.New(queue.Deps{
		Store:       st,
		Publisher:   publish.NewPublisher(cfg.Storage.PublishDir, cfg.Storage.PublicBaseURL),
		Workspaces:  workspace.NewManager(cfg.Storage.WorkspaceDir),
		Broadcaster: hub,
	}, queue.Options{Workers: 1})
	return sched.Recover(ctx)
}
