package syncgroup

import (
	"sync"

	"github.com/sirupsen/logrus"
)

type task struct {
	name string
	fn   func()
}

// SyncGroup 是 sync.WaitGroup 的包装器：先登记，再一起启动，自动 Add/Done。
// 任务 panic 会被记录后重新抛出。
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	pending []task
	running int
}

// NewSyncGroup 创建新的 SyncGroup
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 登记一个任务，Run 时启动
func (w *SyncGroup) Add(name string, fn func()) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.pending = append(w.pending, task{name: name, fn: fn})
	w.mu.Unlock()
}

// Run 启动所有已登记的任务并清空登记表；可多次调用
func (w *SyncGroup) Run() {
	w.mu.Lock()
	tasks := w.pending
	w.pending = nil
	w.running += len(tasks)
	w.mu.Unlock()

	for _, t := range tasks {
		w.wg.Add(1)
		go func(t task) {
			defer func() {
				w.mu.Lock()
				w.running--
				w.mu.Unlock()
				w.wg.Done()
			}()
			defer func() {
				if r := recover(); r != nil {
					logrus.WithField("task", t.name).Errorf("任务 panic: %v", r)
					panic(r)
				}
			}()
			logrus.WithField("task", t.name).Debug("任务启动")
			t.fn()
			logrus.WithField("task", t.name).Debug("任务结束")
		}(t)
	}
}

// Running 正在运行的任务数
func (w *SyncGroup) Running() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Wait 等待所有已启动的任务结束
func (w *SyncGroup) Wait() {
	w.wg.Wait()
}
