package service

import (
	"context"
	"time"

	"machine_monitor/internal/cache"
	"machine_monitor/internal/logger"
	"machine_monitor/internal/models"
	"machine_monitor/internal/repository"
)

const (
	machinesCacheKey = "machines:list"
	machinesCacheTTL = 5 * time.Minute
)

type MachineService struct {
	repo  repository.MachineRegistry
	cache cache.Cache
	log   *logger.Logger
}

func NewMachineService(repo repository.MachineRegistry, c cache.Cache, log *logger.Logger) *MachineService {
	return &MachineService{repo: repo, cache: c, log: log}
}

// ListMachines serves the registry from cache while the entry is fresh.
func (s *MachineService) ListMachines(ctx context.Context) ([]models.Machine, error) {
	var machines []models.Machine
	ok, err := s.cache.Get(ctx, machinesCacheKey, &machines)
	if err != nil {
		s.log.Warnw("machines_cache_read_failed", "err", err)
	}
	if ok {
		return machines, nil
	}
	return s.RefreshMachines(ctx)
}

// RefreshMachines reloads the registry from the database and re-caches it.
func (s *MachineService) RefreshMachines(ctx context.Context) ([]models.Machine, error) {
	machines, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, machinesCacheKey, machines, machinesCacheTTL); err != nil {
		s.log.Warnw("machines_cache_write_failed", "err", err)
	}
	return machines, nil
}

func (s *MachineService) GetMachine(ctx context.Context, id string) (models.Machine, error) {
	return s.repo.Get(ctx, id)
}
