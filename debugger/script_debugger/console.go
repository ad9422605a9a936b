package script_debugger

import (
	"log"
	"os"
	"syscall"

	"github.com/creack/pty"
	. "github.com/fansqz/timetravel-debugger/debugger"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// console 目标程序的虚拟终端
// 程序的stdin和stdout都接在pts上，调试器通过ptm读写
type console struct {
	ptm *os.File
	pts *os.File
}

// openConsole 启动一个虚拟终端
func openConsole() (*console, error) {
	ptm, pts, err := pty.Open()
	if err != nil {
		return nil, err
	}
	if _, err = term.MakeRaw(int(ptm.Fd())); err != nil {
		ptm.Close()
		pts.Close()
		return nil, err
	}
	if err = syscall.SetNonblock(int(ptm.Fd()), true); err != nil {
		logrus.Errorf("[console] SetNonblock fail, err = %v", err)
	}
	return &console{ptm: ptm, pts: pts}, nil
}

// processUserOutput 循环处理用户输出，终端关闭后退出
func (c *console) processUserOutput(callback NotificationCallback) {
	b := make([]byte, 1024)
	for {
		n, err := c.ptm.Read(b)
		if err != nil {
			log.Println(err)
			return
		}
		output := string(b[0:n])
		callback(NewOutputEvent(output))
	}
}

// Send 输入数据到终端
func (c *console) Send(input string) error {
	if len(input) == 0 || input[len(input)-1] != '\n' {
		input += "\n"
	}
	_, err := c.ptm.Write([]byte(input))
	return err
}

func (c *console) Close() {
	if c.ptm != nil {
		c.ptm.Close()
	}
	if c.pts != nil {
		c.pts.Close()
	}
}
