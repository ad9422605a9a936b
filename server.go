package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fansqz/timetravel-debugger/debugger"
	"github.com/fansqz/timetravel-debugger/debugger/script_debugger"
	"github.com/fansqz/timetravel-debugger/protocol"
	"github.com/fansqz/timetravel-debugger/utils"
	"github.com/fansqz/timetravel-debugger/utils/gosync"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// DebugSession DAP协议的调试会话
// 每条连接独占一个调试器实例，请求在各自协程上处理
type DebugSession struct {
	conn net.Conn
	// rw is used to read requests and write events/responses
	rw *bufio.ReadWriter

	config *serverConfig
	debug  debugger.Debugger

	// launchLock 串行化launch，并发的重复launch只放行一个
	launchLock sync.Mutex
	launched   bool

	// sendQueue is used to capture messages from multiple request
	// processing goroutines while writing them to the client connection
	// from a single goroutine via sendFromQueue. We must keep track of
	// the multiple channel senders with a wait group to make sure we do
	// not close this channel prematurely. Closing this channel will signal
	// the sendFromQueue goroutine that it can exit.
	sendQueue chan dap.Message
	sendWg    sync.WaitGroup
	// sendLock 入队持读锁，事件回调不在请求协程上，关闭队列要持写锁
	sendLock sync.RWMutex
	// sendDone 发送协程清空队列后关闭，保证连接关闭前消息已经写出
	sendDone chan struct{}

	closed    int64
	timeout   *utils.TimeoutManager
	closeOnce sync.Once
}

// handleDAPConnection handles a connection from a single client.
// It reads and decodes the incoming data and dispatches it
// to per-request processing goroutines. It also launches the
// sender goroutine to send resulting messages over the connection
// back to the client.
func handleDAPConnection(ctx context.Context, conn net.Conn, config *serverConfig) {
	session := &DebugSession{
		conn:      conn,
		rw:        bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		config:    config,
		debug:     script_debugger.NewScriptDebugger(),
		sendQueue: make(chan dap.Message),
		sendDone:  make(chan struct{}),
	}
	gosync.Go(ctx, session.sendFromQueue)
	if config.idleTimeout > 0 {
		session.timeout = utils.NewTimeoutManager()
		session.timeout.Start(ctx, config.idleTimeout, func() {
			logrus.Infof("[DebugSession] session idle, closing")
			session.close(ctx)
		})
	}

	for {
		request, err := dap.ReadProtocolMessage(session.rw.Reader)
		if err != nil {
			var decodeErr *dap.DecodeProtocolMessageFieldError
			if errors.As(err, &decodeErr) {
				// 单条消息格式错误不结束会话
				session.send(newErrorResponse(decodeErr.Seq, "", err.Error()))
				continue
			}
			if err == io.EOF {
				logrus.Infof("[DebugSession] no more data to read")
			} else if atomic.LoadInt64(&session.closed) == 0 {
				logrus.Warnf("[DebugSession] read fail, err = %v", err)
			}
			break
		}
		if session.timeout != nil {
			session.timeout.Reset()
		}
		session.sendWg.Add(1)
		gosync.Go(ctx, func(ctx context.Context) {
			defer session.sendWg.Done()
			session.dispatchRequest(ctx, request)
		})
	}
	session.close(ctx)
}

func (d *DebugSession) dispatchRequest(ctx context.Context, request dap.Message) {
	switch request := request.(type) {
	case *dap.InitializeRequest:
		d.onInitializeRequest(request)
	case *dap.LaunchRequest:
		d.onLaunchRequest(ctx, request)
	case *dap.SetBreakpointsRequest:
		d.onSetBreakpointsRequest(ctx, request)
	case *dap.ConfigurationDoneRequest:
		d.onConfigurationDoneRequest(ctx, request)
	case *dap.ContinueRequest:
		d.onContinueRequest(ctx, request)
	case *dap.NextRequest:
		d.onNextRequest(ctx, request)
	case *dap.StepInRequest:
		d.onStepInRequest(ctx, request)
	case *dap.StepOutRequest:
		d.onStepOutRequest(ctx, request)
	case *dap.StepBackRequest:
		d.onStepBackRequest(ctx, request)
	case *dap.ReverseContinueRequest:
		d.onReverseContinueRequest(ctx, request)
	case *dap.PauseRequest:
		d.onPauseRequest(ctx, request)
	case *dap.StackTraceRequest:
		d.onStackTraceRequest(ctx, request)
	case *dap.ScopesRequest:
		d.onScopesRequest(ctx, request)
	case *dap.VariablesRequest:
		d.onVariablesRequest(ctx, request)
	case *dap.ThreadsRequest:
		d.onThreadsRequest(request)
	case *dap.TerminateRequest:
		d.onTerminateRequest(ctx, request)
	case *dap.DisconnectRequest:
		d.onDisconnectRequest(ctx, request)
	default:
		if baseReq, ok := request.(dap.RequestMessage); ok {
			seq := baseReq.GetRequest().Seq
			command := baseReq.GetRequest().Command
			d.send(newErrorResponse(seq, command, fmt.Sprintf("%s is not yet supported", command)))
		}
	}
}

// send Message响应给客户端
func (d *DebugSession) send(message dap.Message) {
	defer d.sendLock.RUnlock()
	d.sendLock.RLock()
	if atomic.LoadInt64(&d.closed) == 1 {
		return
	}
	d.sendQueue <- message
}

func (d *DebugSession) sendFromQueue(ctx context.Context) {
	defer close(d.sendDone)
	for message := range d.sendQueue {
		if err := dap.WriteProtocolMessage(d.rw.Writer, message); err != nil {
			logrus.Warnf("[DebugSession] write message fail, err = %v", err)
			continue
		}
		_ = d.rw.Flush()
	}
}

// close 结束会话并回收调试器资源
// 先停掉事件源再等请求协程收尾，保证发送队列可以安全关闭
func (d *DebugSession) close(ctx context.Context) {
	d.closeOnce.Do(func() {
		logrus.Infof("[DebugSession] close, remote = %v", d.conn.RemoteAddr())
		atomic.StoreInt64(&d.closed, 1)
		if d.timeout != nil {
			d.timeout.Cancel()
		}
		if err := d.debug.Close(ctx); err != nil {
			logrus.Warnf("[DebugSession] close debugger fail, err = %v", err)
		}
		d.sendWg.Wait()
		// 写锁保证关闭队列时没有协程停在入队上
		d.sendLock.Lock()
		close(d.sendQueue)
		d.sendLock.Unlock()
		<-d.sendDone
		_ = d.conn.Close()
	})
}

// -----------------------------------------------------------------------
// Request Handlers

func (d *DebugSession) onInitializeRequest(request *dap.InitializeRequest) {
	response := &dap.InitializeResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportsFunctionBreakpoints = false
	response.Body.SupportsConditionalBreakpoints = false
	response.Body.SupportsHitConditionalBreakpoints = false
	response.Body.SupportsEvaluateForHovers = false
	response.Body.ExceptionBreakpointFilters = []dap.ExceptionBreakpointsFilter{}
	response.Body.SupportsStepBack = true
	response.Body.SupportsSetVariable = false
	response.Body.SupportsRestartFrame = false
	response.Body.SupportsGotoTargetsRequest = false
	response.Body.SupportsStepInTargetsRequest = false
	response.Body.SupportsCompletionsRequest = false
	response.Body.CompletionTriggerCharacters = []string{}
	response.Body.SupportsModulesRequest = false
	response.Body.AdditionalModuleColumns = []dap.ColumnDescriptor{}
	response.Body.SupportedChecksumAlgorithms = []dap.ChecksumAlgorithm{}
	response.Body.SupportsRestartRequest = false
	response.Body.SupportsExceptionOptions = false
	response.Body.SupportsValueFormattingOptions = false
	response.Body.SupportsExceptionInfoRequest = false
	response.Body.SupportTerminateDebuggee = false
	response.Body.SupportsDelayedStackTraceLoading = false
	response.Body.SupportsLoadedSourcesRequest = false
	response.Body.SupportsLogPoints = false
	response.Body.SupportsTerminateThreadsRequest = false
	response.Body.SupportsSetExpression = false
	response.Body.SupportsTerminateRequest = true
	response.Body.SupportsDataBreakpoints = false
	response.Body.SupportsReadMemoryRequest = false
	response.Body.SupportsDisassembleRequest = false
	response.Body.SupportsCancelRequest = false
	response.Body.SupportsBreakpointLocationsRequest = false
	// Notify the client with an 'initialized' event. The client will end
	// the configuration sequence with 'configurationDone' request.
	e := &dap.InitializedEvent{Event: *newEvent("initialized")}
	d.send(e)
	d.send(response)
}

func (d *DebugSession) onLaunchRequest(ctx context.Context, request *dap.LaunchRequest) {
	args := protocol.LaunchArguments{}
	if len(request.Arguments) > 0 {
		if err := json.Unmarshal(request.Arguments, &args); err != nil {
			d.send(newErrorResponse(request.Seq, request.Command, fmt.Sprintf("parse launch arguments error: %v", err)))
			return
		}
	}
	// launch全程持锁，排队进来的重复launch会看到占位被拒绝
	defer d.launchLock.Unlock()
	d.launchLock.Lock()
	if d.launched {
		d.send(newErrorResponse(request.Seq, request.Command, "debug target already launched"))
		return
	}
	option, err := d.config.buildStartOption(args.Program, args.Code, args.StopOnEntry, args.RecordCapacity, d.onDebugEvent)
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	if err = d.debug.Start(ctx, option); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	d.launched = true
	response := &dap.LaunchResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onSetBreakpointsRequest(ctx context.Context, request *dap.SetBreakpointsRequest) {
	lines := make([]int, len(request.Arguments.Breakpoints))
	for i, b := range request.Arguments.Breakpoints {
		lines[i] = b.Line
	}
	breakpoints, err := d.debug.SetBreakpoints(ctx, request.Arguments.Source.Path, lines)
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.SetBreakpointsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Breakpoints = make([]dap.Breakpoint, len(breakpoints))
	for i, bp := range breakpoints {
		response.Body.Breakpoints[i] = toDAPBreakpoint(bp)
	}
	d.send(response)
}

func (d *DebugSession) onConfigurationDoneRequest(ctx context.Context, request *dap.ConfigurationDoneRequest) {
	if err := d.debug.Run(ctx); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.ConfigurationDoneResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onContinueRequest(ctx context.Context, request *dap.ContinueRequest) {
	if err := d.debug.Continue(ctx); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.ContinueResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onNextRequest(ctx context.Context, request *dap.NextRequest) {
	if err := d.debug.StepOver(ctx); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.NextResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onStepInRequest(ctx context.Context, request *dap.StepInRequest) {
	if err := d.debug.StepIn(ctx); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.StepInResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onStepOutRequest(ctx context.Context, request *dap.StepOutRequest) {
	if err := d.debug.StepOut(ctx); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.StepOutResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onStepBackRequest(ctx context.Context, request *dap.StepBackRequest) {
	if err := d.debug.StepBack(ctx); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.StepBackResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onReverseContinueRequest(ctx context.Context, request *dap.ReverseContinueRequest) {
	if err := d.debug.ReverseContinue(ctx); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.ReverseContinueResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onPauseRequest(ctx context.Context, request *dap.PauseRequest) {
	if err := d.debug.Pause(ctx); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.PauseResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onStackTraceRequest(ctx context.Context, request *dap.StackTraceRequest) {
	frames, err := d.debug.GetStackTrace(ctx)
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	stackFrames := make([]dap.StackFrame, len(frames))
	for i, frame := range frames {
		stackFrames[i] = dap.StackFrame{
			Id:   frame.ID,
			Name: frame.Name,
			Line: frame.Line,
			Source: &dap.Source{
				Name: filepath.Base(frame.Path),
				Path: frame.Path,
			},
		}
	}
	response := &dap.StackTraceResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.StackTraceResponseBody{
		StackFrames: stackFrames,
		TotalFrames: len(stackFrames),
	}
	d.send(response)
}

func (d *DebugSession) onScopesRequest(ctx context.Context, request *dap.ScopesRequest) {
	scopes, err := d.debug.GetScopes(ctx, request.Arguments.FrameId)
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	dapScopes := make([]dap.Scope, len(scopes))
	for i, scope := range scopes {
		dapScopes[i] = dap.Scope{
			Name:               string(scope.Name),
			VariablesReference: scope.Reference,
		}
	}
	response := &dap.ScopesResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.ScopesResponseBody{
		Scopes: dapScopes,
	}
	d.send(response)
}

func (d *DebugSession) onVariablesRequest(ctx context.Context, request *dap.VariablesRequest) {
	variables, err := d.debug.GetVariables(ctx, request.Arguments.VariablesReference)
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	dapVariables := make([]dap.Variable, len(variables))
	for i, variable := range variables {
		dapVariables[i] = dap.Variable{
			Name:  variable.Name,
			Type:  variable.Type,
			Value: variable.Value,
		}
	}
	response := &dap.VariablesResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.VariablesResponseBody{
		Variables: dapVariables,
	}
	d.send(response)
}

func (d *DebugSession) onThreadsRequest(request *dap.ThreadsRequest) {
	response := &dap.ThreadsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.ThreadsResponseBody{
		Threads: []dap.Thread{{Id: 1, Name: "main"}},
	}
	d.send(response)
}

func (d *DebugSession) onTerminateRequest(ctx context.Context, request *dap.TerminateRequest) {
	if err := d.debug.Terminate(ctx); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.TerminateResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onDisconnectRequest(ctx context.Context, request *dap.DisconnectRequest) {
	response := &dap.DisconnectResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
	d.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
	// close会等待请求协程收尾，不能在请求协程里同步调用
	gosync.Go(ctx, func(ctx context.Context) {
		d.close(ctx)
	})
}

// onDebugEvent 把调试器事件转成DAP事件推给客户端
// 时间旅行和重放在DAP标准里没有事件载体，重放结果以控制台输出呈现
func (d *DebugSession) onDebugEvent(event interface{}) {
	switch event := event.(type) {
	case *debugger.LaunchEvent:
		if !event.Success {
			d.send(newOutputEvent("console", fmt.Sprintf("launch fail: %s\n", event.Message)))
		}
	case *debugger.StoppedEvent:
		e := &dap.StoppedEvent{Event: *newEvent("stopped")}
		e.Body = dap.StoppedEventBody{
			Reason:            string(event.Reason),
			ThreadId:          1,
			AllThreadsStopped: true,
		}
		d.send(e)
	case *debugger.ContinuedEvent:
		e := &dap.ContinuedEvent{Event: *newEvent("continued")}
		e.Body = dap.ContinuedEventBody{
			ThreadId:            1,
			AllThreadsContinued: true,
		}
		d.send(e)
	case *debugger.OutputEvent:
		d.send(newOutputEvent("stdout", event.Output))
	case *debugger.ExitedEvent:
		e := &dap.ExitedEvent{Event: *newEvent("exited")}
		e.Body = dap.ExitedEventBody{ExitCode: event.ExitCode}
		d.send(e)
	case *debugger.BreakpointEvent:
		for _, bp := range event.Breakpoints {
			e := &dap.BreakpointEvent{Event: *newEvent("breakpoint")}
			e.Body = dap.BreakpointEventBody{
				Reason:     string(event.Reason),
				Breakpoint: toDAPBreakpoint(bp),
			}
			d.send(e)
		}
	case *debugger.ReplayEvent:
		message := fmt.Sprintf("replay %s at snapshot %d\n", event.Status, event.Sequence)
		if event.Divergence != nil {
			message = fmt.Sprintf("replay diverged at snapshot %d, fields: %v\n",
				event.Divergence.Sequence, event.Divergence.Fields)
		}
		d.send(newOutputEvent("console", message))
	}
}

func toDAPBreakpoint(bp *debugger.Breakpoint) dap.Breakpoint {
	return dap.Breakpoint{
		Id:       bp.ID,
		Line:     bp.Line,
		Verified: bp.Verified,
	}
}

func newOutputEvent(category string, output string) *dap.OutputEvent {
	e := &dap.OutputEvent{Event: *newEvent("output")}
	e.Body = dap.OutputEventBody{
		Category: category,
		Output:   output,
	}
	return e
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}

func newResponse(requestSeq int, command string) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    command,
		RequestSeq: requestSeq,
		Success:    true,
	}
}

func newErrorResponse(requestSeq int, command string, message string) *dap.ErrorResponse {
	er := &dap.ErrorResponse{}
	er.Response = *newResponse(requestSeq, command)
	er.Success = false
	er.Body.Error = &dap.ErrorMessage{}
	er.Body.Error.Format = message
	er.Body.Error.Id = 12345
	return er
}
