package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/fansqz/ether-debugger/config"
	"github.com/sirupsen/logrus"
)

// 定义版本号
const Version = "1.0.1"

func main() {
	showVersion := flag.Bool("version", false, "Show the version number")
	configPath := flag.String("config", "config.yml", "Config file")
	port := flag.String("port", "", "TCP port to listen on, overrides server.addr")
	debuggerPath := flag.String("debugger", "", "Debugger process to launch, overrides debugger.path")
	debuggerArgs := flag.String("args", "", "Space separated arguments of the debugger process")
	stopOnEntry := flag.Bool("stopOnEntry", false, "Stop on the first line")
	console := flag.Bool("console", false, "Start an interactive console instead of the DAP server")
	flag.Parse()

	// 检查是否需要显示版本信息
	if *showVersion {
		fmt.Printf("Version: %s\n", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("load config fail, err = %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Server.Addr = ":" + *port
	}
	if *debuggerPath != "" {
		cfg.Debugger.Path = *debuggerPath
	}
	if *debuggerArgs != "" {
		cfg.Debugger.Args = strings.Fields(*debuggerArgs)
	}
	if *stopOnEntry {
		cfg.Debugger.StopOnEntry = true
	}

	//启动日志
	SetupLogger(&cfg.Logging)
	defer CloseLogger()

	if *console {
		if err = NewConsole(cfg).Run(context.Background()); err != nil {
			logrus.Errorf("console exit, err = %v", err)
		}
		return
	}

	// 监听端口
	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		fmt.Printf("listen at %s fail, err = %v\n", cfg.Server.Addr, err)
		return
	}
	defer listener.Close()
	fmt.Printf("started listening at: %s\n", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			logrus.Errorf("connection failed: %v", err)
			continue
		}
		// 每个客户端连接是一个独立的调试会话
		go handleConnection(conn, cfg)
	}
}
