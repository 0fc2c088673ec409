// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 datalayer 运维命令行入口。

# 概述

cmd/datalayer 加载配置（YAML + 环境变量 + 传统命名选项），初始化
zap 日志、Prometheus 指标与 OpenTelemetry，并通过 database.Manager
与 health.Monitor 执行一次性检查或常驻探针服务。

# 子命令

  - check：执行详细健康检查并输出 JSON 报告，unhealthy 时退出码为 1
  - bench：执行 -n 次探测查询并输出性能报告，支持并发与限速
  - probe：启动探针 HTTP 服务，直到收到 SIGINT/SIGTERM
  - version / help

# 探针路由

  - GET /healthz：最小探测，200 ok 或 503
  - GET /readyz：详细健康报告 JSON，unhealthy 时 503
  - GET /perf?n=：性能测试报告 JSON，n 上限由 probe.perf_max_queries 控制
  - GET /pool：连接池快照
  - GET /version、GET /metrics

中间件链：Recovery、RequestID、OTelTracing、RequestLogger、MetricsMiddleware。
构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置。
*/
package main
