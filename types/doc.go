// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供数据访问层的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 config、database、
repository、health 等上层模块提供统一的错误契约，以避免循环依赖。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 Retryable、Field 标记与 Cause 链

# 错误码

  - CONFIGURATION        — 配置非法，启动时快速失败
  - NOT_INITIALIZED      — 管理器未初始化或已关闭
  - ALREADY_INITIALIZED  — 重复初始化
  - POOL_TIMEOUT         — 连接池耗尽，等待超时（不重试）
  - RETRY_EXHAUSTED      — 瞬时故障重试耗尽，Cause 为最后一次错误
  - CONNECTION           — 连接故障：拨号永久失败时不可重试；语句执行中的连接级故障（拒绝、重置、服务端关闭）标记 Retryable，连接被丢弃
  - VALIDATION           — 实体数据被校验钩子拒绝
  - CONSTRAINT           — 数据库约束冲突（唯一键、外键）
  - CONFLICT             — 死锁、序列化失败、锁等待超时，Retryable，连接保留
  - QUERY_TIMEOUT        — 单次操作超时
  - SESSION_DONE         — 会话已释放后继续使用
  - SESSION_BUSY         — 会话正被另一个操作占用

# 主要能力

  - 错误工具链：AsError / IsErrorCode / GetErrorCode / IsRetryable
  - errors.Is 按错误码匹配：errors.Is(err, NewError(ErrPoolTimeout, ""))
*/
package types
