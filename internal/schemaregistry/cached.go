// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package schemaregistry

import (
	"context"
	"errors"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const defaultCacheTTL = 15 * time.Minute

// CachedRegistry is a read-through cache in front of a Registry. Registered
// table IDs are immutable, so positive lookups can be cached aggressively;
// ErrNotRegistered is never cached, since a registration may land at any
// moment during a run's lazy initialization.
type CachedRegistry struct {
	inner Registry
	cache *ttlcache.Cache[Key, string]
}

var _ Registry = (*CachedRegistry)(nil)

func NewCachedRegistry(inner Registry) *CachedRegistry {
	cache := ttlcache.New(
		ttlcache.WithTTL[Key, string](defaultCacheTTL),
	)
	go cache.Start()
	return &CachedRegistry{inner: inner, cache: cache}
}

func (r *CachedRegistry) LookupTableID(ctx context.Context, key Key) (string, error) {
	if item := r.cache.Get(key); item != nil {
		return item.Value(), nil
	}
	id, err := r.inner.LookupTableID(ctx, key)
	if err != nil {
		return "", err
	}
	r.cache.Set(key, id, ttlcache.DefaultTTL)
	return id, nil
}

func (r *CachedRegistry) RegisterTableID(ctx context.Context, key Key, tableID string) error {
	if err := r.inner.RegisterTableID(ctx, key, tableID); err != nil {
		return err
	}
	r.cache.Set(key, tableID, ttlcache.DefaultTTL)
	return nil
}

// Stop shuts down the cache's expiry loop.
func (r *CachedRegistry) Stop() {
	r.cache.Stop()
}

type studyCacheValue struct {
	study Study
	err   error
}

// CachedStudyStore caches study lookups, including lookup errors, for the
// TTL window. Study settings change rarely and a run can touch the same
// study thousands of times.
type CachedStudyStore struct {
	inner StudyStore
	cache *ttlcache.Cache[string, studyCacheValue]
}

var _ StudyStore = (*CachedStudyStore)(nil)

func NewCachedStudyStore(inner StudyStore) *CachedStudyStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, studyCacheValue](defaultCacheTTL),
	)
	go cache.Start()
	return &CachedStudyStore{inner: inner, cache: cache}
}

func (s *CachedStudyStore) GetStudy(ctx context.Context, studyID string) (Study, error) {
	loader := ttlcache.LoaderFunc[string, studyCacheValue](
		func(cache *ttlcache.Cache[string, studyCacheValue], key string) *ttlcache.Item[string, studyCacheValue] {
			study, err := s.inner.GetStudy(ctx, key)
			return cache.Set(key, studyCacheValue{study: study, err: err}, ttlcache.DefaultTTL)
		},
	)
	v := s.cache.Get(studyID, ttlcache.WithLoader(loader))
	if v == nil {
		return Study{}, errors.New("failed to get study from cache")
	}
	return v.Value().study, v.Value().err
}

// Stop shuts down the cache's expiry loop.
func (s *CachedStudyStore) Stop() {
	s.cache.Stop()
}
