package feeder

import (
	"sync/atomic"

	"feedbot/internal/config"
)

// Authorizer answers access questions from the current access lists. The
// lists are swapped on config reload.
type Authorizer struct {
	cfg atomic.Pointer[config.AccessConfig]
}

func NewAuthorizer(cfg config.AccessConfig) *Authorizer {
	a := &Authorizer{}
	a.Set(cfg)
	return a
}

func (a *Authorizer) Set(cfg config.AccessConfig) {
	c := cfg
	a.cfg.Store(&c)
}

func (a *Authorizer) IsAdmin(userID int64) bool {
	return userID != 0 && a.cfg.Load().IsAdmin(userID)
}

func (a *Authorizer) IsUser(userID int64) bool {
	return userID != 0 && a.cfg.Load().IsUser(userID)
}
