// Copyright 2025 James Ross

// Package redisclient constructs the optional Redis client backing the
// Blackboard cache mirror.
package redisclient

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lsst-dm/ctrl-joboffice/internal/config"
)

// New returns a configured go-redis v9 client, or nil if the cache mirror
// is disabled.
func New(cfg *config.Config) *redis.Client {
	if !cfg.Cache.Enabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Cache.Addr,
		Username:     cfg.Cache.Username,
		Password:     cfg.Cache.Password,
		DB:           cfg.Cache.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}
