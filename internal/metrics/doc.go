// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的数据访问层指标采集能力，覆盖
连接池、会话获取、数据库操作、健康探测与探针 HTTP 五个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用
promauto.With(Registerer) 注册到调用方提供的 Registry（为 nil 时使用
默认 Registry）。所有指标按 namespace 隔离；nil *Collector 的方法均为
空操作，未启用指标时调用方无需判空。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - 连接池指标：size/checked_in/checked_out/overflow Gauge，按 driver 分组。
  - 会话获取指标：按结果（ok 或错误码）计数、获取耗时、连接重试次数。
  - 数据库指标：按 driver/operation 分组的操作耗时与错误码计数。
  - 健康指标：当前状态 Gauge（healthy/degraded/unhealthy）与探测耗时。
  - HTTP 指标：探针服务请求总数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
*/
package metrics
