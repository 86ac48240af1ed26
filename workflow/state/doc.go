// 版权所有 2024 StepFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 state 提供工作流会话的事件溯源持久化层。

# 组件

  - Manager: 唯一允许构造新 WorkflowState / StepState 值的组件。
    InitializeSession / LoadSession / ResumeSession 返回 *Session 句柄，
    后续所有操作都显式传入句柄，同一 Manager 可驱动多个会话。
    每次变更同步持久化，并在事件总线上发布 session:initialized、
    session:loaded、workflow:updated、step:updated。
  - Store: 在 Repository 之前缓冲状态事件，按 SnapshotInterval 写快照，
    单会话事件数超过 CompactionThreshold 时压缩（压缩前先写快照），
    并提供 Replay 历史回放。
  - FileRepository: 按 <base>/<yyyy>/<mm>/<sessionId>/ 分区的文件存储，
    原子写入，维护 index.json 会话索引。
  - MemoryRepository: 内存实现，适合测试。

# 不可变性

读取接口返回深拷贝（见 WorkflowState.Clone），调用方对返回值的任何修改
都不会影响 Manager 持有的状态。

# 限制

同一进程内的写入是串行的；不提供跨进程文件锁，两个进程同时修改同一会话
可能产生竞争。
*/
package state
