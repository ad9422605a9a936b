package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/fansqz/timetravel-debugger/debugger"
	"github.com/sirupsen/logrus"
)

// 定义版本号
const Version = "1.0.0"

// serverConfig 服务启动参数，所有会话共享
type serverConfig struct {
	// defaultFile 请求没有指定调试目标时使用的脚本文件
	defaultFile string
	// defaultCode 启动时从codeFile读入的脚本内容，优先级低于请求参数
	defaultCode string
	// capacity 快照环形缓冲容量，0表示使用调试器默认值
	capacity int
	// idleTimeout 会话空闲超过该时长后自动关闭，0表示不限制
	idleTimeout time.Duration
}

// buildStartOption 组装调试启动参数
// 目标的优先级：请求内联代码 > 请求文件 > 启动参数里的默认代码和文件
func (c *serverConfig) buildStartOption(program string, code string, stopOnEntry bool, recordCapacity int,
	callback debugger.NotificationCallback) (*debugger.StartOption, error) {
	option := &debugger.StartOption{
		StopOnEntry:    stopOnEntry,
		RecordCapacity: recordCapacity,
		Callback:       callback,
	}
	if recordCapacity <= 0 {
		option.RecordCapacity = c.capacity
	}
	switch {
	case code != "":
		option.MainCode = code
	case program != "":
		option.ExecFile = program
	case c.defaultCode != "":
		option.MainCode = c.defaultCode
	case c.defaultFile != "":
		option.ExecFile = c.defaultFile
	default:
		return nil, fmt.Errorf("no debug target: program and code are both empty")
	}
	return option, nil
}

func main() {
	showVersion := flag.Bool("version", false, "Show the version number")
	port := flag.String("port", "8889", "TCP port to listen on")
	execFile := flag.String("file", "", "Default script file to debug")
	codeFile := flag.String("codeFile", "", "File whose content is used as the default inline script")
	protocolName := flag.String("protocol", "dap", "Wire protocol, dap or json")
	capacity := flag.Int("capacity", 0, "Snapshot ring capacity, 0 means default")
	idleTimeout := flag.Duration("idleTimeout", 0, "Close idle sessions after this duration, 0 disables")
	logPath := flag.String("log", "/var/timetravel-debugger.log", "Log file path, empty logs to stderr")
	flag.Parse()

	// 检查是否需要显示版本信息
	if *showVersion {
		fmt.Printf("Version: %s\n", Version)
		return
	}
	if *protocolName != "dap" && *protocolName != "json" {
		fmt.Printf("protocol %s not support\n", *protocolName)
		return
	}

	// 启动日志
	SetupLogger(*logPath)
	defer CloseLogger()

	config := &serverConfig{
		defaultFile: *execFile,
		capacity:    *capacity,
		idleTimeout: *idleTimeout,
	}
	if *codeFile != "" {
		data, err := os.ReadFile(*codeFile)
		if err != nil {
			fmt.Printf("read code file fail, err = %v\n", err)
			return
		}
		config.defaultCode = string(data)
	}

	// 监听端口
	listener, err := net.Listen("tcp", ":"+*port)
	if err != nil {
		fmt.Printf("listen fail, err = %v\n", err)
		return
	}
	defer listener.Close()
	fmt.Printf("started listening at: %s\n", listener.Addr().String())
	logrus.Infof("[main] started listening at %s, protocol = %s", listener.Addr().String(), *protocolName)

	ctx := context.Background()
	for {
		conn, err := listener.Accept()
		if err != nil {
			logrus.Warnf("[main] accept fail, err = %v", err)
			continue
		}
		logrus.Infof("[main] accept connection from %v", conn.RemoteAddr())
		// Handle multiple client connections concurrently
		if *protocolName == "json" {
			go handleJSONConnection(ctx, conn, config)
		} else {
			go handleDAPConnection(ctx, conn, config)
		}
	}
}
