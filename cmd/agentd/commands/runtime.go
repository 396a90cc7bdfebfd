package commands

import (
	"context"

	"github.com/agentd-dev/agentd/internal/config"
	"github.com/agentd-dev/agentd/internal/event"
	"github.com/agentd-dev/agentd/internal/hook"
	"github.com/agentd-dev/agentd/internal/logging"
	"github.com/agentd-dev/agentd/internal/permission"
	"github.com/agentd-dev/agentd/internal/project"
	"github.com/agentd-dev/agentd/internal/provider"
	"github.com/agentd-dev/agentd/internal/session"
	"github.com/agentd-dev/agentd/internal/store"
	"github.com/agentd-dev/agentd/internal/tool"
	"github.com/agentd-dev/agentd/internal/watcher"
	"github.com/agentd-dev/agentd/pkg/types"
)

// runtime holds the wired application: store, bus, engine, services.
// Both serve and run build one and tear it down on exit.
type runtime struct {
	workDir  string
	paths    *config.Paths
	config   *types.Config
	store    *store.Store
	bus      *event.Bus
	gate     *permission.Gate
	engine   *session.Engine
	sessions *session.Service
	projects *project.Service
	watcher  *watcher.Watcher
}

func newRuntime(ctx context.Context, workDir string) (*runtime, error) {
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, store.Options{
		Path:      paths.DBPath(),
		LegacyDir: paths.LegacyStoragePath(),
	})
	if err != nil {
		return nil, err
	}

	bus := event.New()
	gate := permission.NewGate(bus, st)
	providers := provider.InitializeProviders(appConfig)
	tools := tool.Default(tool.Deps{
		WorkDir: workDir,
		Store:   st,
		Bus:     bus,
	})

	w, err := watcher.New(st, bus)
	if err != nil {
		st.Close()
		return nil, err
	}
	w.Start()

	engine := session.NewEngine(session.Deps{
		Store:     st,
		Bus:       bus,
		Providers: providers,
		Tools:     tools,
		Gate:      gate,
		Hooks:     hook.NewDispatcher(),
		Truncator: tool.NewTruncator(paths.ToolOutputPath()),
		Config:    appConfig,
		Snapshots: w,
	})

	return &runtime{
		workDir:  workDir,
		paths:    paths,
		config:   appConfig,
		store:    st,
		bus:      bus,
		gate:     gate,
		engine:   engine,
		sessions: session.NewService(st, bus),
		projects: project.NewService(st, bus),
		watcher:  w,
	}, nil
}

// close tears the runtime down in dependency order: cancel running
// turns, stop the watcher, then release the bus and store.
func (rt *runtime) close() {
	rt.engine.Locks().CancelAll()
	if err := rt.watcher.Stop(); err != nil {
		logging.Warn().Err(err).Msg("watcher stop failed")
	}
	rt.bus.Close()
	if err := rt.store.Close(); err != nil {
		logging.Warn().Err(err).Msg("store close failed")
	}
}
