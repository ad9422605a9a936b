package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/fansqz/timetravel-debugger/constants"
	"github.com/fansqz/timetravel-debugger/debugger"
	"github.com/fansqz/timetravel-debugger/debugger/script_debugger"
	e "github.com/fansqz/timetravel-debugger/error"
	"github.com/fansqz/timetravel-debugger/protocol"
	"github.com/fansqz/timetravel-debugger/utils"
	"github.com/fansqz/timetravel-debugger/utils/gosync"
	"github.com/sirupsen/logrus"
)

// maxRequestSize 单条请求的最大长度，内联代码也走这条信道
const maxRequestSize = 1024 * 1024

// JSONSession 自定义JSON协议的调试会话，一行一个信封
// 会话按 uninitialized -> initialized -> ready -> terminated 线性推进，
// 每条连接独占一个调试器实例，互不影响
type JSONSession struct {
	conn   net.Conn
	config *serverConfig
	debug  debugger.Debugger

	stateLock sync.Mutex
	state     constants.SessionStateType
	launched  bool

	// writeLock 应答和事件共用一条连接，保证单写者
	writeLock sync.Mutex
	// seq 服务端分配的消息序号
	seq int64

	timeout   *utils.TimeoutManager
	closeOnce sync.Once
}

// handleJSONConnection 处理一条自定义JSON协议的连接
// 每个请求在自己的协程上处理，执行中的continue不会挡住后来的pause
func handleJSONConnection(ctx context.Context, conn net.Conn, config *serverConfig) {
	session := &JSONSession{
		conn:   conn,
		config: config,
		debug:  script_debugger.NewScriptDebugger(),
		state:  constants.SessionUninitialized,
	}
	if config.idleTimeout > 0 {
		session.timeout = utils.NewTimeoutManager()
		session.timeout.Start(ctx, config.idleTimeout, func() {
			logrus.Infof("[JSONSession] session idle, closing")
			session.close(ctx)
		})
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if session.timeout != nil {
			session.timeout.Reset()
		}
		raw := make([]byte, len(line))
		copy(raw, line)
		gosync.Go(ctx, func(ctx context.Context) {
			session.handle(ctx, raw)
		})
	}
	if err := scanner.Err(); err != nil {
		logrus.Warnf("[JSONSession] read fail, err = %v", err)
	}
	session.close(ctx)
}

// handle 解析信封并按command分发
// 未知command和解析失败都回一条失败应答，连接保持打开
func (s *JSONSession) handle(ctx context.Context, raw []byte) {
	req := &protocol.Request{}
	if err := json.Unmarshal(raw, req); err != nil {
		logrus.Warnf("[JSONSession] parse request error, err = %v", err)
		s.sendResponse(req, false, fmt.Sprintf("parse request error: %v", err), nil)
		return
	}
	if req.Type != "" && req.Type != constants.RequestMessage {
		s.sendResponse(req, false, fmt.Sprintf("message type %s not support", req.Type), nil)
		return
	}
	switch s.currentState() {
	case constants.SessionTerminated:
		s.sendResponse(req, false, e.ErrSessionTerminated.Error(), nil)
		return
	case constants.SessionUninitialized:
		if req.Command != constants.Initialize {
			s.sendResponse(req, false, e.ErrSessionNotInitialized.Error(), nil)
			return
		}
	}

	switch req.Command {
	case constants.Initialize:
		s.handleInitialize(req)
	case constants.Launch:
		s.handleLaunch(ctx, req)
	case constants.ConfigurationDone:
		s.handleConfigurationDone(ctx, req)
	case constants.SetBreakpoints:
		s.handleSetBreakpoints(ctx, req)
	case constants.AddBreakpoints:
		s.handleAddBreakpoints(ctx, req)
	case constants.RemoveBreakpoints:
		s.handleRemoveBreakpoints(ctx, req)
	case constants.SetBreakpointEnabled:
		s.handleSetBreakpointEnabled(ctx, req)
	case constants.Pause:
		s.replyError(req, s.debug.Pause(ctx))
	case constants.Continue:
		s.replyError(req, s.debug.Continue(ctx))
	case constants.Next:
		s.replyError(req, s.debug.StepOver(ctx))
	case constants.StepIn:
		s.replyError(req, s.debug.StepIn(ctx))
	case constants.StepOut:
		s.replyError(req, s.debug.StepOut(ctx))
	case constants.StepBack:
		s.replyError(req, s.debug.StepBack(ctx))
	case constants.ReverseContinue:
		s.replyError(req, s.debug.ReverseContinue(ctx))
	case constants.GotoSnapshot:
		s.handleGotoSnapshot(ctx, req)
	case constants.ReplayStart:
		s.replyError(req, s.debug.ReplayStart(ctx))
	case constants.ReplayStep:
		s.handleReplayStep(ctx, req)
	case constants.ReplayReset:
		s.replyError(req, s.debug.ReplayReset(ctx))
	case constants.StackTrace:
		s.handleStackTrace(ctx, req)
	case constants.Scopes:
		s.handleScopes(ctx, req)
	case constants.Variables:
		s.handleVariables(ctx, req)
	case constants.SendToConsole:
		s.handleSendToConsole(ctx, req)
	case constants.State:
		s.handleState(ctx, req)
	case constants.Terminate:
		s.replyError(req, s.debug.Terminate(ctx))
	case constants.Disconnect:
		s.sendResponse(req, true, "", nil)
		s.close(ctx)
	default:
		s.sendResponse(req, false, fmt.Sprintf("command %s not support", req.Command), nil)
	}
}

func (s *JSONSession) handleInitialize(req *protocol.Request) {
	s.stateLock.Lock()
	if s.state != constants.SessionUninitialized {
		s.stateLock.Unlock()
		s.sendResponse(req, false, e.ErrSessionInitialized.Error(), nil)
		return
	}
	s.state = constants.SessionInitialized
	s.stateLock.Unlock()
	s.sendResponse(req, true, "", &protocol.Capabilities{
		SupportsConfigurationDoneRequest: true,
		SupportsStepBack:                 true,
		SupportsReplay:                   true,
	})
	s.sendEvent(constants.InitializedEvent, nil)
}

func (s *JSONSession) handleLaunch(ctx context.Context, req *protocol.Request) {
	args := protocol.LaunchArguments{}
	if !s.parseArguments(req, &args) {
		return
	}
	// 检查和占位在同一个临界区，并发的重复launch只放行一个
	s.stateLock.Lock()
	if s.launched {
		s.stateLock.Unlock()
		s.sendResponse(req, false, "debug target already launched", nil)
		return
	}
	s.launched = true
	s.stateLock.Unlock()
	option, err := s.config.buildStartOption(args.Program, args.Code, args.StopOnEntry, args.RecordCapacity, s.onDebugEvent)
	if err != nil {
		s.resetLaunched()
		s.sendResponse(req, false, err.Error(), nil)
		return
	}
	if err = s.debug.Start(ctx, option); err != nil {
		s.resetLaunched()
		s.sendResponse(req, false, err.Error(), nil)
		return
	}
	s.sendResponse(req, true, "", nil)
}

// resetLaunched launch失败后释放占位，允许修正参数重新launch
func (s *JSONSession) resetLaunched() {
	defer s.stateLock.Unlock()
	s.stateLock.Lock()
	s.launched = false
}

// handleConfigurationDone 配置完成，启动目标程序
// 会话已经是ready时表示重新执行，历史记录会被重置
func (s *JSONSession) handleConfigurationDone(ctx context.Context, req *protocol.Request) {
	s.stateLock.Lock()
	launched := s.launched
	s.stateLock.Unlock()
	if !launched {
		s.sendResponse(req, false, "debug target not launched", nil)
		return
	}
	if err := s.debug.Run(ctx); err != nil {
		s.sendResponse(req, false, err.Error(), nil)
		return
	}
	s.stateLock.Lock()
	if s.state == constants.SessionInitialized {
		s.state = constants.SessionReady
	}
	s.stateLock.Unlock()
	s.sendResponse(req, true, "", nil)
}

func (s *JSONSession) handleSetBreakpoints(ctx context.Context, req *protocol.Request) {
	args := protocol.SetBreakpointsArguments{}
	if !s.parseArguments(req, &args) {
		return
	}
	bps, err := s.debug.SetBreakpoints(ctx, args.Source.Path, breakpointLines(args.Breakpoints))
	if err != nil {
		s.sendResponse(req, false, err.Error(), nil)
		return
	}
	s.sendResponse(req, true, "", &protocol.BreakpointsResponseBody{Breakpoints: bps})
}

func (s *JSONSession) handleAddBreakpoints(ctx context.Context, req *protocol.Request) {
	args := protocol.AddBreakpointsArguments{}
	if !s.parseArguments(req, &args) {
		return
	}
	bps, err := s.debug.AddBreakpoints(ctx, args.Source.Path, breakpointLines(args.Breakpoints))
	if err != nil {
		s.sendResponse(req, false, err.Error(), nil)
		return
	}
	s.sendResponse(req, true, "", &protocol.BreakpointsResponseBody{Breakpoints: bps})
}

func (s *JSONSession) handleRemoveBreakpoints(ctx context.Context, req *protocol.Request) {
	args := protocol.RemoveBreakpointsArguments{}
	if !s.parseArguments(req, &args) {
		return
	}
	s.replyError(req, s.debug.RemoveBreakpoints(ctx, args.Source.Path, breakpointLines(args.Breakpoints)))
}

func (s *JSONSession) handleSetBreakpointEnabled(ctx context.Context, req *protocol.Request) {
	args := protocol.SetBreakpointEnabledArguments{}
	if !s.parseArguments(req, &args) {
		return
	}
	s.replyError(req, s.debug.SetBreakpointEnabled(ctx, args.Source.Path, args.Line, args.Enabled))
}

func (s *JSONSession) handleGotoSnapshot(ctx context.Context, req *protocol.Request) {
	args := protocol.GotoSnapshotArguments{}
	if !s.parseArguments(req, &args) {
		return
	}
	s.replyError(req, s.debug.GotoSnapshot(ctx, args.Sequence))
}

func (s *JSONSession) handleReplayStep(ctx context.Context, req *protocol.Request) {
	result, err := s.debug.ReplayStep(ctx)
	if err != nil {
		s.sendResponse(req, false, err.Error(), nil)
		return
	}
	s.sendResponse(req, true, "", result)
}

func (s *JSONSession) handleStackTrace(ctx context.Context, req *protocol.Request) {
	frames, err := s.debug.GetStackTrace(ctx)
	if err != nil {
		s.sendResponse(req, false, err.Error(), nil)
		return
	}
	s.sendResponse(req, true, "", &protocol.StackTraceResponseBody{StackFrames: frames})
}

func (s *JSONSession) handleScopes(ctx context.Context, req *protocol.Request) {
	args := protocol.ScopesArguments{}
	if !s.parseArguments(req, &args) {
		return
	}
	scopes, err := s.debug.GetScopes(ctx, args.FrameId)
	if err != nil {
		s.sendResponse(req, false, err.Error(), nil)
		return
	}
	s.sendResponse(req, true, "", &protocol.ScopesResponseBody{Scopes: scopes})
}

func (s *JSONSession) handleVariables(ctx context.Context, req *protocol.Request) {
	args := protocol.VariablesArguments{}
	if !s.parseArguments(req, &args) {
		return
	}
	variables, err := s.debug.GetVariables(ctx, args.Reference)
	if err != nil {
		s.sendResponse(req, false, err.Error(), nil)
		return
	}
	s.sendResponse(req, true, "", &protocol.VariablesResponseBody{Variables: variables})
}

func (s *JSONSession) handleSendToConsole(ctx context.Context, req *protocol.Request) {
	args := protocol.SendToConsoleArguments{}
	if !s.parseArguments(req, &args) {
		return
	}
	s.replyError(req, s.debug.Send(ctx, args.Content))
}

func (s *JSONSession) handleState(ctx context.Context, req *protocol.Request) {
	state, err := s.debug.GetState(ctx)
	if err != nil {
		s.sendResponse(req, false, err.Error(), nil)
		return
	}
	s.sendResponse(req, true, "", state)
}

// onDebugEvent 把调试器事件转成协议事件推给客户端
func (s *JSONSession) onDebugEvent(event interface{}) {
	switch event := event.(type) {
	case *debugger.LaunchEvent:
		s.sendEvent(constants.LaunchEvent, &protocol.LaunchEventBody{Success: event.Success, Message: event.Message})
	case *debugger.StoppedEvent:
		s.sendEvent(constants.StoppedEvent, &protocol.StoppedEventBody{
			Reason:   event.Reason,
			File:     event.File,
			Line:     event.Line,
			Sequence: event.Sequence,
		})
	case *debugger.ContinuedEvent:
		s.sendEvent(constants.ContinuedEvent, nil)
	case *debugger.OutputEvent:
		s.sendEvent(constants.OutputEvent, &protocol.OutputEventBody{Output: event.Output})
	case *debugger.ExitedEvent:
		s.sendEvent(constants.ExitedEvent, &protocol.ExitedEventBody{ExitCode: event.ExitCode, Message: event.Message})
	case *debugger.BreakpointEvent:
		s.sendEvent(constants.BreakpointEvent, &protocol.BreakpointEventBody{Reason: event.Reason, Breakpoints: event.Breakpoints})
	case *debugger.ReplayEvent:
		s.sendEvent(constants.ReplayEvent, &protocol.ReplayEventBody{
			Status:     event.Status,
			Sequence:   event.Sequence,
			Divergence: event.Divergence,
		})
	}
}

// replyError 只需要报告成败的命令统一用这个应答
func (s *JSONSession) replyError(req *protocol.Request, err error) {
	if err != nil {
		s.sendResponse(req, false, err.Error(), nil)
		return
	}
	s.sendResponse(req, true, "", nil)
}

// parseArguments 解析请求参数，失败时直接应答
func (s *JSONSession) parseArguments(req *protocol.Request, args interface{}) bool {
	if len(req.Arguments) == 0 {
		return true
	}
	if err := json.Unmarshal(req.Arguments, args); err != nil {
		logrus.Warnf("[JSONSession] parse arguments error, err = %v", err)
		s.sendResponse(req, false, fmt.Sprintf("parse arguments error: %v", err), nil)
		return false
	}
	return true
}

func (s *JSONSession) sendResponse(req *protocol.Request, success bool, message string, body interface{}) {
	s.writeMessage(&protocol.Response{
		Seq:        s.nextSeq(),
		Type:       constants.ResponseMessage,
		RequestSeq: req.Seq,
		Command:    req.Command,
		Success:    success,
		Message:    message,
		Body:       body,
	})
}

func (s *JSONSession) sendEvent(event constants.DebugEventType, body interface{}) {
	s.writeMessage(&protocol.Event{
		Seq:   s.nextSeq(),
		Type:  constants.EventMessage,
		Event: event,
		Body:  body,
	})
}

func (s *JSONSession) writeMessage(message interface{}) {
	answer, err := json.Marshal(message)
	if err != nil {
		logrus.Errorf("[JSONSession] marshal message fail, err = %v", err)
		return
	}
	defer s.writeLock.Unlock()
	s.writeLock.Lock()
	if _, err = s.conn.Write(append(answer, '\n')); err != nil {
		logrus.Warnf("[JSONSession] write message fail, err = %v", err)
	}
}

func (s *JSONSession) nextSeq() int {
	return int(atomic.AddInt64(&s.seq, 1))
}

func (s *JSONSession) currentState() constants.SessionStateType {
	defer s.stateLock.Unlock()
	s.stateLock.Lock()
	return s.state
}

// close 结束会话并回收调试器资源，事件先于连接关闭发出
func (s *JSONSession) close(ctx context.Context) {
	s.closeOnce.Do(func() {
		logrus.Infof("[JSONSession] close")
		s.stateLock.Lock()
		s.state = constants.SessionTerminated
		s.stateLock.Unlock()
		if s.timeout != nil {
			s.timeout.Cancel()
		}
		s.sendEvent(constants.TerminatedEvent, nil)
		if err := s.debug.Close(ctx); err != nil {
			logrus.Warnf("[JSONSession] close debugger fail, err = %v", err)
		}
		_ = s.conn.Close()
	})
}

func breakpointLines(breakpoints []protocol.SourceBreakpoint) []int {
	lines := make([]int, len(breakpoints))
	for i, bp := range breakpoints {
		lines[i] = bp.Line
	}
	return lines
}
