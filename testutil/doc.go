// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供数据访问层测试的共享工具和辅助函数。

# 概述

testutil 包为 database、repository、health 等包的单元测试提供统一的
辅助能力，避免各包重复构造配置、日志与断言。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 配置辅助: MemorySettings / FileSettings 生成校验过的 sqlite 配置，
    WithPool / WithPoolTimeout / WithRetries 等选项按需覆盖
  - 断言工具: AssertErrorCode / AssertJSONEqual / AssertJSONKeys / AssertContains
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual，
    支持超时轮询等待条件满足

# 子包

  - testutil/mocks: 故障注入的连接拨号器 FlakyDialer，
    支持前 N 次瞬时失败、永久失败与拨号阻塞
  - testutil/fixtures: 测试实体 User / Product 及其数据工厂

# 使用示例

	s := testutil.MemorySettings(t, testutil.WithRetries(3))
	dialer := mocks.NewFlakyDialer().FailTimes(2, mocks.ErrConnRefused)
	m := database.NewManager(database.WithDialer(func(next database.Dialer) database.Dialer {
		return dialer.Wrap(next.Dial)
	}))
*/
package testutil
