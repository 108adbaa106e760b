package party

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tcriess/lightspeed-party/config"
	"github.com/tcriess/lightspeed-party/globals"
	"github.com/tcriess/lightspeed-party/persistence"
)

// Janitor releases the room membership of users who stayed in the
// paused (disconnected) state past the configured grace period. Without
// janitor configuration, disconnected users keep their association
// indefinitely.
type Janitor struct {
	session   *Session
	persister persistence.Persister
	runner    *cron.Cron
	spec      string
	grace     time.Duration
}

// NewJanitor returns nil when the janitor is not configured.
func NewJanitor(cfg *config.Config, session *Session, persister persistence.Persister) *Janitor {
	if cfg.JanitorConfig.Interval == "" || cfg.JanitorConfig.DisconnectGraceHours <= 0 {
		return nil
	}
	return &Janitor{
		session:   session,
		persister: persister,
		runner:    cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		spec:      cfg.JanitorConfig.Interval,
		grace:     time.Duration(cfg.JanitorConfig.DisconnectGraceHours) * time.Hour,
	}
}

func (j *Janitor) Start() error {
	_, err := j.runner.AddFunc(j.spec, j.sweep)
	if err != nil {
		return err
	}
	j.runner.Start()
	globals.AppLogger.Info("janitor started", "interval", j.spec, "grace", j.grace)
	return nil
}

func (j *Janitor) Stop() {
	ctx := j.runner.Stop()
	<-ctx.Done()
}

func (j *Janitor) sweep() {
	users, err := j.persister.Users()
	if err != nil {
		globals.AppLogger.Error("janitor could not list users", "error", err)
		return
	}
	cutoff := time.Now().Add(-j.grace)
	for _, user := range users {
		if !user.Paused || user.Idle() || user.LastSeen.After(cutoff) {
			continue
		}
		globals.AppLogger.Info("releasing room membership of stale user", "user", user.Id, "last_seen", user.LastSeen)
		if user.Hosting() {
			if _, err := j.session.StopBroadcast(context.Background(), user.Id); err != nil {
				globals.AppLogger.Error("janitor could not stop broadcast", "user", user.Id, "error", err)
			}
			continue
		}
		if err := j.session.LeaveRoom(context.Background(), user.Id); err != nil {
			globals.AppLogger.Error("janitor could not detach listener", "user", user.Id, "error", err)
		}
	}
}
