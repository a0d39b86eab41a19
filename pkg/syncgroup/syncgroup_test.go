package syncgroup

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncGroup_RunAndWait(t *testing.T) {
	sg := NewSyncGroup()
	var n int32
	for i := 0; i < 5; i++ {
		sg.Add("inc", func() { atomic.AddInt32(&n, 1) })
	}
	sg.Add("nil", nil)

	sg.Run()
	sg.Wait()
	assert.Equal(t, int32(5), atomic.LoadInt32(&n))
	assert.Zero(t, sg.Running())

	sg.Run()
	sg.Wait()
	assert.Equal(t, int32(5), atomic.LoadInt32(&n), "已启动的任务不会重复执行")

	sg.Add("again", func() { atomic.AddInt32(&n, 1) })
	sg.Run()
	sg.Wait()
	assert.Equal(t, int32(6), atomic.LoadInt32(&n))
}
