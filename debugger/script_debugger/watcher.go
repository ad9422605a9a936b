package script_debugger

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fansqz/timetravel-debugger/utils/gosync"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// debounceInterval 编辑器保存会触发一串事件，合并成一次重载
const debounceInterval = 100 * time.Millisecond

// sourceWatcher 监听调试目标源文件的变更
// 编辑器保存常用改名替换的方式写文件，所以监听目录再按文件名过滤
type sourceWatcher struct {
	file      string
	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

func newSourceWatcher(file string, onChange func()) (*sourceWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	absFile, err := filepath.Abs(file)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	if err = watcher.Add(filepath.Dir(absFile)); err != nil {
		watcher.Close()
		return nil, err
	}
	s := &sourceWatcher{
		file:    absFile,
		watcher: watcher,
		done:    make(chan struct{}),
	}
	gosync.Go(context.Background(), func(ctx context.Context) {
		s.watch(onChange)
	})
	return s, nil
}

func (s *sourceWatcher) watch(onChange func()) {
	timer := time.NewTimer(debounceInterval)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.file {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounceInterval)
		case <-timer.C:
			onChange()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logrus.Errorf("[sourceWatcher] watch fail, err = %v", err)
		case <-s.done:
			return
		}
	}
}

func (s *sourceWatcher) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.watcher.Close()
	})
}
