package script_debugger

import (
	"context"
	"fmt"
	"sort"

	"github.com/fansqz/timetravel-debugger/constants"
	. "github.com/fansqz/timetravel-debugger/debugger"
	e "github.com/fansqz/timetravel-debugger/error"
)

// travelScopeReference 时间旅行模式下快照里活跃作用域的固定引用
const travelScopeReference = 1

// getLocalScopeReference 根据栈帧id计算局部作用域引用
func getLocalScopeReference(frameId int) int {
	return frameId*2 + 1
}

// getGlobalScopeReference 根据栈帧id计算全局作用域引用
func getGlobalScopeReference(frameId int) int {
	return frameId*2 + 2
}

// checkIsLocalScope 判断引用是否指向局部作用域
func checkIsLocalScope(reference int) bool {
	return (reference-1)%2 == 0
}

// getFrameIdByReference 从作用域引用还原栈帧id
func getFrameIdByReference(reference int) int {
	return (reference - 1) / 2
}

// GetStackTrace 获取栈帧，时间旅行时返回光标指向快照中的栈帧
func (s *ScriptDebugger) GetStackTrace(ctx context.Context) ([]*StackFrame, error) {
	controller := s.getController()
	if controller == nil {
		return nil, e.ErrDebuggerNotStarted
	}
	if snapshot, ok := s.travelSnapshot(); ok {
		if snapshot == nil {
			return nil, e.ErrNotRetained
		}
		return snapshot.Stack, nil
	}
	return controller.StackTrace()
}

// GetScopes 获取某个栈帧的作用域列表
// 时间旅行时快照只保留活跃作用域，更外层的栈帧没有可展开的作用域
func (s *ScriptDebugger) GetScopes(ctx context.Context, frameId int) ([]*Scope, error) {
	controller := s.getController()
	if controller == nil {
		return nil, e.ErrDebuggerNotStarted
	}
	if snapshot, ok := s.travelSnapshot(); ok {
		if snapshot == nil {
			return nil, e.ErrNotRetained
		}
		if frameId != 0 {
			return []*Scope{}, nil
		}
		name := constants.ScopeLocal
		if len(snapshot.Stack) <= 1 {
			name = constants.ScopeGlobal
		}
		return []*Scope{{Name: name, Reference: travelScopeReference}}, nil
	}
	frames, err := controller.StackTrace()
	if err != nil {
		return nil, err
	}
	if frameId < 0 || frameId >= len(frames) {
		return nil, fmt.Errorf("frame %d not found", frameId)
	}
	// 最外层是主程序帧，它的局部作用域就是全局作用域
	if frameId == len(frames)-1 {
		return []*Scope{
			{Name: constants.ScopeGlobal, Reference: getGlobalScopeReference(frameId)},
		}, nil
	}
	return []*Scope{
		{Name: constants.ScopeGlobal, Reference: getGlobalScopeReference(frameId)},
		{Name: constants.ScopeLocal, Reference: getLocalScopeReference(frameId)},
	}, nil
}

// GetVariables 查看某个作用域引用中的变量列表
func (s *ScriptDebugger) GetVariables(ctx context.Context, reference int) ([]*Variable, error) {
	controller := s.getController()
	if controller == nil {
		return nil, e.ErrDebuggerNotStarted
	}
	if reference < 1 {
		return nil, fmt.Errorf("invalid variable reference %d", reference)
	}
	if snapshot, ok := s.travelSnapshot(); ok {
		if snapshot == nil {
			return nil, e.ErrNotRetained
		}
		if reference != travelScopeReference {
			return nil, fmt.Errorf("invalid variable reference %d", reference)
		}
		return sortVariables(snapshot.Variables), nil
	}
	var vars map[string]string
	var err error
	if checkIsLocalScope(reference) {
		vars, err = controller.LocalVariables(getFrameIdByReference(reference))
	} else {
		vars, err = controller.GlobalVariables()
	}
	if err != nil {
		return nil, err
	}
	return sortVariables(vars), nil
}

// travelSnapshot 时间旅行模式下光标指向的快照
func (s *ScriptDebugger) travelSnapshot() (*ExecutionSnapshot, bool) {
	defer s.lock.RUnlock()
	s.lock.RLock()
	if !s.travel {
		return nil, false
	}
	return s.navigator.Current(), true
}

// sortVariables 变量按名称排序，保证同一状态下的展示顺序稳定
func sortVariables(vars map[string]string) []*Variable {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	result := make([]*Variable, 0, len(names))
	for _, name := range names {
		result = append(result, &Variable{Name: name, Type: "int", Value: vars[name]})
	}
	return result
}
