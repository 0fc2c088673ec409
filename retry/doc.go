// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package retry 提供带指数退避的显式重试循环。

# 概述

Policy 描述最大重试次数、初始延迟、延迟上限以及区分瞬时/永久故障的
判定函数。瞬时故障按 base * 2^(n-1) 退避（封顶 MaxDelay），永久故障
立即原样返回，重试耗尽时返回 types.ErrRetryExhausted 并保留最后一次
错误作为 Cause。等待期间响应 context 取消。

# 核心类型

  - Policy  — 重试参数与 OnRetry 回调
  - Do      — 执行无返回值的操作
  - DoValue — 执行带返回值的操作
*/
package retry
