package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func (a *app) purgeSessionsHandler(c *gin.Context) {
	n, err := a.purgeOnce(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": n})
}

// runPurgeLoop removes expired sessions every purge interval until ctx is done.
func (a *app) runPurgeLoop(ctx context.Context) {
	interval := a.cfg.Jobs.PurgeInterval
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := a.purgeOnce(ctx); err != nil {
				a.log.Warn("session purge failed", "error", err)
			}
		}
	}
}

func (a *app) purgeOnce(ctx context.Context) (int64, error) {
	timeout := a.cfg.Jobs.PurgeTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	n, err := a.sessions.PurgeExpired(ctx)
	if err != nil {
		return 0, err
	}
	sessionsPurgedTotal.Add(float64(n))
	if n > 0 {
		a.log.Info("purged expired sessions", "count", n)
	}
	return n, nil
}
