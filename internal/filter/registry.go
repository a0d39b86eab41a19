// Package filter 保存每个 principal 的自动交易过滤器，并针对指标信号求值。
package filter

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/autotrader/pkg/persistence"
)

var log = logrus.WithField("component", "filter")

// AutoTradeFilter 单个 principal 的过滤条件
type AutoTradeFilter struct {
	Expression string `json:"expression"`
	Interval   string `json:"interval"`
}

// Registry principal -> 过滤器。按值存取，读者不会看到写了一半的数据。
type Registry struct {
	mu      sync.RWMutex
	filters map[string]AutoTradeFilter

	store persistence.Store
}

// NewRegistry 创建空的注册表；store 为 nil 时不做快照
func NewRegistry(store persistence.Store) *Registry {
	return &Registry{
		filters: make(map[string]AutoTradeFilter),
		store:   store,
	}
}

// NewSnapshotStore 注册表快照使用的存储 key
func NewSnapshotStore(service persistence.Service) persistence.Store {
	return service.NewStore("filters", "autotrade", "registry")
}

// Set 设置（覆盖）principal 的过滤器
func (r *Registry) Set(principal string, f AutoTradeFilter) error {
	r.mu.Lock()
	r.filters[principal] = f
	err := r.saveLocked()
	r.mu.Unlock()
	return err
}

// Clear 移除 principal 的过滤器；不存在时无操作
func (r *Registry) Clear(principal string) error {
	r.mu.Lock()
	if _, ok := r.filters[principal]; !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.filters, principal)
	err := r.saveLocked()
	r.mu.Unlock()
	return err
}

// Get 返回过滤器副本
func (r *Registry) Get(principal string) (AutoTradeFilter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.filters[principal]
	return f, ok
}

// Len 已设置过滤器的 principal 数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.filters)
}

// Restore 从快照恢复。快照不存在时保持为空。
func (r *Registry) Restore() error {
	if r.store == nil {
		return nil
	}
	loaded := make(map[string]AutoTradeFilter)
	if err := r.store.Load(&loaded); err != nil {
		if errors.Is(err, persistence.ErrNotExists) {
			return nil
		}
		return errors.Wrap(err, "restore filter registry")
	}

	r.mu.Lock()
	for principal, f := range loaded {
		r.filters[principal] = f
	}
	r.mu.Unlock()
	log.Infof("已从快照恢复 %d 个过滤器", len(loaded))
	return nil
}

// saveLocked 内存修改不回滚，快照失败只返回错误
func (r *Registry) saveLocked() error {
	if r.store == nil {
		return nil
	}
	snapshot := make(map[string]AutoTradeFilter, len(r.filters))
	for k, v := range r.filters {
		snapshot[k] = v
	}
	if err := r.store.Save(snapshot); err != nil {
		return errors.Wrap(err, "save filter registry snapshot")
	}
	return nil
}
