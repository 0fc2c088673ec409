// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供探针 HTTP 服务器的生命周期管理：非阻塞启动、
优雅关闭与系统信号监听。

# 核心类型

  - Manager：持有 http.Server 与 net.Listener，提供 Start/Shutdown/Wait。
  - Config：监听地址、读写超时与优雅关闭超时，可由 config.ProbeConfig 构造。

# 主要能力

  - Start 在后台 goroutine 中运行服务，Addr 返回实际监听地址（支持 ":0"）。
  - Wait 监听 SIGINT/SIGTERM、ctx 结束或服务异常，随后自动关闭。
  - Shutdown 在配置的超时内排空请求，重复调用为空操作。
*/
package server
