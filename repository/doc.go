// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package repository 提供基于 GORM 的通用实体仓储。

# 概述

Repository[T, ID] 为任意 GORM 实体提供统一的 CRUD 语义。每次调用默认
通过 SessionProvider（通常是 *database.Manager）获取并释放一个会话；
On(sess) 返回绑定到调用方会话的副本，多次操作复用同一连接。

# 核心类型

  - Repository：Create / Get / GetAll / Update / Delete / Count。
  - Validator：领域校验钩子，在基于 validate 标签的基础校验之后按注册顺序执行。
  - Ordered：实体声明自然排序列，GetAll 以其为第一排序键、主键为第二排序键。

# 语义

  - 写操作（Create / Update / Delete）各在一个事务中执行，任何失败整体回滚。
  - Get 与 Update 对不存在的主键返回 found=false 且 error 为 nil。
  - Delete 返回是否确有记录被删除，对不存在的主键重复调用始终返回 false。
  - GetAll 要求 skip >= 0、limit > 0，limit 超过 MaxPageSize 时被截断。
  - 校验失败返回 VALIDATION，唯一键/外键冲突返回 CONSTRAINT。
*/
package repository
