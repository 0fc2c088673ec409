// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package config 提供数据访问层的配置加载与校验。

# 概述

Loader 按 默认值 → YAML 文件 → DATALAYER_ 前缀环境变量 → 传统命名选项
的顺序构造原始 Config。原始 DatabaseConfig 的池参数为指针，nil 表示
未设置；Validate 据此按部署环境补全默认值并检查所有不变量，失败时
返回 CONFIGURATION 错误。校验通过后得到不可变的 Settings，由
database.Manager 在启动时消费一次。

# 核心类型

  - Config / Loader — 完整配置与 Builder 风格加载器
  - DatabaseConfig  — 原始数据库配置
  - Settings        — 校验后的配置（驱动类别、DSN、池参数、超时）
  - FromOptions     — 由 DATABASE_URL、DB_POOL_SIZE 等命名选项构造原始配置

# 环境默认值

production 使用 20+30 的连接池并强制关闭 SQL 回显；development 与 test
使用 5+10。内存 SQLite 只允许在 development/test 使用，固定为单连接且
不回收。时长选项既接受 "30s" 也接受不带单位的秒数 "30"。
*/
package config
