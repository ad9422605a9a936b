package main

import (
	"log"
	"os"

	"github.com/sirupsen/logrus"
)

var logFile *os.File

// SetupLogger 日志写入指定文件，路径为空时保留标准错误输出
func SetupLogger(path string) {
	if path == "" {
		return
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		logrus.Warnf("[main] open log file fail, err = %v", err)
		return
	}
	logFile = file
	log.SetOutput(logFile)
	logrus.SetOutput(logFile)
}

func CloseLogger() {
	if logFile != nil {
		_ = logFile.Close()
	}
}
