// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package health 提供数据库健康探测与性能测试。

# 概述

Monitor 通过 SessionSource（通常是 *database.Manager）获取会话并执行
往返查询，对外只暴露布尔结果或结构化报告，从不返回错误、从不 panic。

# 核心方法

  - CheckHealth：最小探测，获取-查询-释放全部成功时返回 true。
  - CheckDetailedHealth：附带延迟与连接池快照的 HealthReport。
  - RunPerformanceTest：执行 N 次探测查询并汇总为 PerformanceReport。

# 状态判定

无响应为 unhealthy；响应但延迟超过阈值，或借出连接占比达到饱和阈值
时为 degraded；其余为 healthy。延迟统计只计入成功的查询，
queries_executed 为尝试执行的总数。
*/
package health
