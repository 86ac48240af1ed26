// Copyright 2026 StepFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 StepFlow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 状态层夹具: NewFileManager / NewMemoryManager，基于 t.TempDir()
    或内存仓储构建 state.Manager
  - 断言工具: AssertRolesEqual / AssertJSONEqual
  - 数据工具: MustJSON / WaitFor

# 子包

  - testutil/mocks: MockProvider（补全客户端，支持脚本化响应与错误注入）、
    MockRegistry（工具注册表，记录调用参数与工作流上下文）

# 使用示例

	ctx := testutil.TestContext(t)
	manager, _ := testutil.NewFileManager(t)
	provider := mocks.NewMockProvider().WithResponse("hello")
*/
package testutil
