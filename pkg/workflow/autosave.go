package workflow

import (
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// AutosaveConfig holds autosave configuration.
type AutosaveConfig struct {
	// Interval between save checks. Defaults to 30 seconds.
	Interval time.Duration

	// Save persists the current items. Required.
	Save func(items []*Item) error

	// Logger for save failures. Defaults to zap.NewNop().
	Logger *zap.Logger
}

// Autosave periodically persists the local pipeline while it has unsaved
// edits. A save that fails leaves the modified flag set, so the next tick
// retries.
type Autosave struct {
	local *Local
	cfg   AutosaveConfig
	cron  *cron.Cron
}

// NewAutosave creates an autosaver for l. Call Start to begin ticking.
func NewAutosave(l *Local, cfg AutosaveConfig) (*Autosave, error) {
	if cfg.Save == nil {
		return nil, pkgerrors.New("workflow: autosave requires a Save function")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Autosave{
		local: l,
		cfg:   cfg,
		cron:  cron.New(),
	}, nil
}

// Start begins the periodic save checks on the cron's own goroutine.
func (a *Autosave) Start() error {
	_, err := a.cron.AddFunc("@every "+a.cfg.Interval.String(), a.tick)
	if err != nil {
		return pkgerrors.Wrap(err, "workflow: autosave schedule")
	}
	a.cron.Start()
	return nil
}

// Stop halts the ticker and waits for an in-flight save to finish.
func (a *Autosave) Stop() {
	ctx := a.cron.Stop()
	<-ctx.Done()
}

func (a *Autosave) tick() {
	if !a.local.Modified() {
		return
	}
	if err := a.cfg.Save(a.local.Items()); err != nil {
		a.cfg.Logger.Warn("autosave failed", zap.Error(err))
		return
	}
	a.local.ClearModified()
	a.cfg.Logger.Debug("autosaved workflow")
}
