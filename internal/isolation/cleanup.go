package isolation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/archonhq/archon/internal/common/logger"
	"github.com/archonhq/archon/internal/events"
	"github.com/archonhq/archon/internal/events/bus"
	"github.com/archonhq/archon/internal/git"
	"github.com/archonhq/archon/internal/store"
)

// Breakdown classifies a codebase's active environments for the worktree
// limit message.
type Breakdown struct {
	Total  int
	Merged int
	Stale  int
	Active int
}

// CleanupService removes disposable worktrees. A worktree is disposable
// when its branch is fully merged and it has no uncommitted changes; it is
// stale when no attached conversation has been active within the threshold.
type CleanupService struct {
	store          store.Store
	git            git.Service
	staleThreshold time.Duration
	bus            bus.EventBus
	logger         *logger.Logger
}

func NewCleanupService(st store.Store, gitSvc git.Service, staleThreshold time.Duration, log *logger.Logger) *CleanupService {
	return &CleanupService{
		store:          st,
		git:            gitSvc,
		staleThreshold: staleThreshold,
		logger:         log.WithFields(zap.String("component", "isolation_cleanup")),
	}
}

// SetBus attaches an event bus so cleanup operations can announce removed
// environments. Optional.
func (c *CleanupService) SetBus(eventBus bus.EventBus) {
	c.bus = eventBus
}

// envClass is the per-environment scan result.
type envClass struct {
	env    *store.IsolationEnvironment
	merged bool
	stale  bool
}

// scan classifies every active environment concurrently. Classification is
// read-only so a bounded errgroup over git subprocesses is safe.
func (c *CleanupService) scan(ctx context.Context, codebase *store.Codebase) ([]envClass, error) {
	envs, err := c.store.ListActiveEnvironments(ctx, codebase.ID)
	if err != nil {
		return nil, err
	}

	classes := make([]envClass, len(envs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, env := range envs {
		i, env := i, env
		g.Go(func() error {
			cls := envClass{env: env}

			if !c.git.WorktreeExists(env.WorkingPath) {
				// Vanished on disk; treat as merged so it gets reaped.
				cls.merged = true
			} else if !c.git.HasUncommittedChanges(gctx, env.WorkingPath) {
				merged, err := c.git.IsBranchMerged(gctx, codebase.DefaultCwd, env.BranchName)
				if err != nil {
					c.logger.Warn("Failed to check branch merge status",
						zap.String("branch", env.BranchName),
						zap.Error(err))
				}
				cls.merged = merged
			}

			if !cls.merged {
				last, err := c.store.EnvironmentLastActivity(gctx, env.ID)
				if err == nil && time.Since(last) > c.staleThreshold {
					cls.stale = true
				}
			}

			mu.Lock()
			classes[i] = cls
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return classes, nil
}

// Classify returns the merged/stale/active breakdown for a codebase.
func (c *CleanupService) Classify(ctx context.Context, codebase *store.Codebase) (Breakdown, error) {
	classes, err := c.scan(ctx, codebase)
	if err != nil {
		return Breakdown{}, err
	}
	b := Breakdown{Total: len(classes)}
	for _, cls := range classes {
		switch {
		case cls.merged:
			b.Merged++
		case cls.stale:
			b.Stale++
		default:
			b.Active++
		}
	}
	return b, nil
}

// CleanupToMakeRoom removes environments whose branches are fully merged
// with no uncommitted changes. Returns the number removed.
func (c *CleanupService) CleanupToMakeRoom(ctx context.Context, codebase *store.Codebase) (int, error) {
	classes, err := c.scan(ctx, codebase)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, cls := range classes {
		if !cls.merged {
			continue
		}
		if c.remove(ctx, codebase, cls.env) {
			removed++
		}
	}
	return removed, nil
}

// CleanupStale removes environments with no conversation activity within
// the stale threshold, skipping any with uncommitted changes.
func (c *CleanupService) CleanupStale(ctx context.Context, codebase *store.Codebase) (int, error) {
	classes, err := c.scan(ctx, codebase)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, cls := range classes {
		if !cls.merged && !cls.stale {
			continue
		}
		if cls.stale && c.git.HasUncommittedChanges(ctx, cls.env.WorkingPath) {
			continue
		}
		if c.remove(ctx, codebase, cls.env) {
			removed++
		}
	}
	return removed, nil
}

// remove tears down one environment; failures are logged and skipped so one
// stuck worktree never blocks the rest.
func (c *CleanupService) remove(ctx context.Context, codebase *store.Codebase, env *store.IsolationEnvironment) bool {
	if c.git.WorktreeExists(env.WorkingPath) {
		if err := c.git.RemoveWorktree(ctx, codebase.DefaultCwd, env.WorkingPath); err != nil {
			c.logger.Warn("Failed to remove worktree",
				zap.String("path", env.WorkingPath),
				zap.Error(err))
			return false
		}
	}
	if err := c.store.MarkEnvironmentDestroyed(ctx, env.ID); err != nil {
		c.logger.Warn("Failed to mark environment destroyed",
			zap.String("environment_id", env.ID),
			zap.Error(err))
		return false
	}
	c.logger.Info("Cleaned up worktree",
		zap.String("branch", env.BranchName),
		zap.String("path", env.WorkingPath))
	if c.bus != nil {
		event := bus.NewEvent(events.SubjectIsolationCleaned, "isolation_cleanup", map[string]interface{}{
			"environment_id": env.ID,
			"codebase_id":    codebase.ID,
			"branch":         env.BranchName,
		})
		if err := c.bus.Publish(ctx, events.SubjectIsolationCleaned, event); err != nil {
			c.logger.Warn("Failed to publish cleanup event", zap.Error(err))
		}
	}
	return true
}
