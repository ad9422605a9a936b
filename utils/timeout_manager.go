package utils

import (
	"context"
	"time"

	"github.com/fansqz/timetravel-debugger/utils/gosync"
	"github.com/sirupsen/logrus"
)

// TimeoutManager 一个计时器
// 如果在timeout时间内没有执行reset命令，就会执行fun函数
type TimeoutManager struct {
	timer         *time.Timer
	timeout       time.Duration
	resetChannel  chan bool
	cancelChannel chan bool
	fun           func()
}

// NewTimeoutManager 创建一个新的计时器实例
func NewTimeoutManager() *TimeoutManager {
	return &TimeoutManager{}
}

// Start 开始计时
// 在timeout时间内没有执行reset命令，就会执行fun函数
func (t *TimeoutManager) Start(ctx context.Context, timeout time.Duration, option func()) {
	t.timer = time.NewTimer(timeout)
	t.timeout = timeout
	t.fun = option
	t.resetChannel = make(chan bool)
	t.cancelChannel = make(chan bool)
	gosync.Go(ctx, func(ctx context.Context) {
		for {
			select {
			case <-t.timer.C:
				logrus.Infof("[TimeoutManager] timer expired, performing action")
				// Timer到期，执行命令
				t.fun()
				return
			case <-t.resetChannel:
				if !t.timer.Stop() {
					<-t.timer.C
				}
				t.timer.Reset(t.timeout)
			case <-t.cancelChannel:
				logrus.Infof("[TimeoutManager] cancel")
				if !t.timer.Stop() {
					<-t.timer.C // 确保Timer停止并清空通道
				}
				return
			}
		}
	})
}

// Reset 重置计时器
// 计时已经结束时直接丢弃，不会阻塞调用方
func (t *TimeoutManager) Reset() {
	select {
	case t.resetChannel <- true:
	default:
	}
}

// Cancel 取消计时
func (t *TimeoutManager) Cancel() {
	select {
	case t.cancelChannel <- true:
	default:
	}
}
