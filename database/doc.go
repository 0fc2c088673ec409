// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 database 提供进程级连接管理：有界连接池、带退避重试的连接建立、
作用域会话与优雅关闭。

# 概述

Manager 持有唯一的连接池与 GORM 句柄。Initialize 按 config.Settings
构建惰性连接池（postgres 经 pgx、mysql 经 go-sql-driver、sqlite 经
go-sqlite3），Shutdown 等待进行中的会话在宽限期内结束，超时后取消
剩余操作并关闭全部连接。

# 核心类型

  - Manager：连接管理器，生命周期为
    Uninitialized → Initializing → Ready → Draining → Closed，
    Closed 之后可以重新 Initialize。
  - Session：绑定到一条已借出连接的工作单元，提供 Run、Transaction、
    Exec、Ping，调用方独占使用，Release 可重复调用。
  - PoolSnapshot：连接池快照（借出数、空闲数、溢出数、饱和度）。
  - Dialer：物理连接拨号器，可通过 WithDialer 包装以注入故障。
  - GormLogger：GORM 日志到 zap 的桥接，支持 SQL 回显与慢查询告警。

# 错误语义

  - 池与溢出连接全部借出并等待超过 PoolTimeout：POOL_TIMEOUT，不重试。
  - 瞬时连接故障（拒绝、重置、网络超时、服务端暂不可用）：指数退避重试
    ConnectionRetries 次，耗尽后返回 RETRY_EXHAUSTED。
  - 永久故障（认证失败、URL 错误）：立即返回 CONNECTION，不重试。
  - 语句超过 QueryTimeout：QUERY_TIMEOUT，连接在释放时被丢弃。
  - 唯一键/外键等约束冲突：CONSTRAINT。
  - 语句执行中的连接级故障：CONNECTION（Retryable），连接被丢弃。
  - 死锁、序列化失败、锁等待超时、SQLite BUSY/LOCKED：CONFLICT（Retryable），
    连接保留，由调用方重放事务。
*/
package database
